package sensor

import (
	"math"

	"github.com/ayusman/skeletrain/internal/skeleton"
)

// Field of view of the PrimeSense/Kinect depth camera, in radians.
const (
	DefaultHFOV = 1.0144686707507438
	DefaultVFOV = 0.78980943449644714
)

// Projection maps real-world millimetres onto the depth image.
type Projection struct {
	Width  int
	Height int
	HFOV   float64
	VFOV   float64
}

// RealWorldToProjective returns the pixel column and row of p with its depth
// kept as Z. Points at depth 0 map to the origin.
func (p Projection) RealWorldToProjective(pt skeleton.Point3D) skeleton.Point3D {
	if pt.Z == 0 {
		return skeleton.Point3D{}
	}

	xzFactor := 2 * math.Tan(p.HFOV/2)
	yzFactor := 2 * math.Tan(p.VFOV/2)
	w, h := float64(p.Width), float64(p.Height)

	return skeleton.Point3D{
		X: w/2 + pt.X/(xzFactor*pt.Z)*w,
		Y: h/2 - pt.Y/(yzFactor*pt.Z)*h,
		Z: pt.Z,
	}
}
