// Package sensor defines the depth/skeleton sensor backend the application
// runs against, along with mock, replay and subprocess bridge implementations.
package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/skeleton"
)

var (
	// ErrEndOfStream is returned by WaitFrame when no more frames will arrive.
	ErrEndOfStream = errors.New("end of sensor stream")
	// ErrUnknownUser is returned when joints are requested for a user the backend does not track.
	ErrUnknownUser = errors.New("user not tracked by backend")
)

// Frame is one synchronized depth and user-segmentation capture. Events holds
// the notifications the backend raised while producing it, in order.
type Frame struct {
	Width     int
	Height    int
	Depth     []uint16 // depth in millimetres, 0 = no reading
	Labels    []uint16 // user id per pixel, 0 = background
	Events    []calibration.Event
	Timestamp time.Time
}

// JointReader reads one joint of one user.
type JointReader interface {
	JointPosition(user int, joint skeleton.JointID) (skeleton.JointSample, error)
}

// Backend is a depth sensor with user segmentation and skeleton tracking.
type Backend interface {
	calibration.Backend
	JointReader

	// WaitFrame blocks until the next frame is available.
	WaitFrame(ctx context.Context) (*Frame, error)

	// RealWorldToProjective converts a real-world point to pixel coordinates plus depth.
	RealWorldToProjective(p skeleton.Point3D) (skeleton.Point3D, error)

	// Close releases any resources held by the backend.
	Close() error
}

// ReadJoints reads every joint of a tracked user. A joint reported at depth 0
// has no valid position and is returned as skeleton.Unavailable.
func ReadJoints(r JointReader, user int) (skeleton.Joints, error) {
	joints := make(skeleton.Joints, skeleton.NumJoints)
	for _, j := range skeleton.AllJoints() {
		s, err := r.JointPosition(user, j)
		if err != nil {
			return nil, &calibration.BackendCallError{Op: "read joint " + j.String(), User: user, Err: err}
		}
		if s.Position.Z == 0 {
			s = skeleton.Unavailable(j)
		}
		s.Joint = j
		joints[j] = s
	}
	return joints, nil
}
