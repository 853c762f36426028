package skeleton

import (
	"encoding/json"
	"errors"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerate is returned when a zero-length vector is normalized.
var ErrDegenerate = errors.New("degenerate vector: zero magnitude")

// Vector3D is an immutable displacement between two points.
type Vector3D struct {
	v r3.Vec
}

// NewVector returns the displacement end - start.
func NewVector(start, end Point3D) Vector3D {
	return Vector3D{v: r3.Sub(toVec(end), toVec(start))}
}

// Vec returns a vector with the given components.
func Vec(x, y, z float64) Vector3D {
	return Vector3D{v: r3.Vec{X: x, Y: y, Z: z}}
}

func toVec(p Point3D) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

func (v Vector3D) X() float64 { return v.v.X }
func (v Vector3D) Y() float64 { return v.v.Y }
func (v Vector3D) Z() float64 { return v.v.Z }

// Magnitude returns the Euclidean norm.
func (v Vector3D) Magnitude() float64 {
	return r3.Norm(v.v)
}

// IsZero reports whether all components are zero.
func (v Vector3D) IsZero() bool {
	return v.v == r3.Vec{}
}

// Normalize returns the unit vector in the direction of v.
// A zero vector yields the zero vector and ErrDegenerate, never NaN components.
func (v Vector3D) Normalize() (Vector3D, error) {
	if v.Magnitude() == 0 {
		return Vector3D{}, ErrDegenerate
	}
	return Vector3D{v: r3.Unit(v.v)}, nil
}

// Scale returns v with every component multiplied by factor.
func (v Vector3D) Scale(factor float64) Vector3D {
	return Vector3D{v: r3.Scale(factor, v.v)}
}

// String formats the vector as "x:y:z", the dataset field encoding.
func (v Vector3D) String() string {
	return formatComponent(v.v.X) + ":" + formatComponent(v.v.Y) + ":" + formatComponent(v.v.Z)
}

func formatComponent(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MarshalJSON encodes the vector as an object with x, y and z fields.
func (v Vector3D) MarshalJSON() ([]byte, error) {
	return json.Marshal(Point3D{X: v.v.X, Y: v.v.Y, Z: v.v.Z})
}
