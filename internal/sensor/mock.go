package sensor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ayusman/skeletrain/internal/skeleton"
)

// MockBackend is a test implementation of the Backend interface.
// It plays back queued frames and records every capability call.
type MockBackend struct {
	mu         sync.Mutex
	needPose   bool
	pose       string
	frames     []*Frame
	joints     map[int]skeleton.Joints
	errs       map[string]error
	calls      []string
	projection Projection
	closed     bool
}

// NewMockBackend creates a MockBackend that requires the "Psi" pose before calibration.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		needPose: true,
		pose:     "Psi",
		joints:   make(map[int]skeleton.Joints),
		errs:     make(map[string]error),
		projection: Projection{
			Width: 640, Height: 480, HFOV: DefaultHFOV, VFOV: DefaultVFOV,
		},
	}
}

// SetNeedPose sets whether calibration needs pose detection first.
func (m *MockBackend) SetNeedPose(need bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.needPose = need
}

// QueueFrame appends a frame to be returned by WaitFrame.
func (m *MockBackend) QueueFrame(f *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
}

// SetJoints sets the joint positions reported for a user.
func (m *MockBackend) SetJoints(user int, joints skeleton.Joints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joints[user] = joints.Clone()
}

// SetError makes the named operation fail with err. Operation names match
// the entries recorded by Calls, e.g. "request_calibration".
func (m *MockBackend) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// Calls returns the recorded calls formatted as "op(user)".
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Closed reports whether Close has been called.
func (m *MockBackend) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockBackend) call(op string, user int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("%s(%d)", op, user))
	return m.errs[op]
}

func (m *MockBackend) NeedPoseForCalibration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needPose
}

func (m *MockBackend) CalibrationPose() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pose
}

func (m *MockBackend) StartPoseDetection(pose string, user int) error {
	return m.call("start_pose_detection", user)
}

func (m *MockBackend) StopPoseDetection(user int) error {
	return m.call("stop_pose_detection", user)
}

func (m *MockBackend) RequestCalibration(user int, force bool) error {
	return m.call("request_calibration", user)
}

func (m *MockBackend) StartTracking(user int) error {
	return m.call("start_tracking", user)
}

// WaitFrame returns the next queued frame, or ErrEndOfStream once the queue is empty.
func (m *MockBackend) WaitFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errs["wait_frame"]; err != nil {
		return nil, err
	}
	if len(m.frames) == 0 {
		return nil, ErrEndOfStream
	}
	f := m.frames[0]
	m.frames = m.frames[1:]
	return f, nil
}

func (m *MockBackend) JointPosition(user int, joint skeleton.JointID) (skeleton.JointSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errs["joint_position"]; err != nil {
		return skeleton.JointSample{}, err
	}
	joints, ok := m.joints[user]
	if !ok {
		return skeleton.JointSample{}, fmt.Errorf("user %d: %w", user, ErrUnknownUser)
	}
	s, ok := joints[joint]
	if !ok {
		return skeleton.Unavailable(joint), nil
	}
	return s, nil
}

func (m *MockBackend) RealWorldToProjective(p skeleton.Point3D) (skeleton.Point3D, error) {
	return m.projection.RealWorldToProjective(p), nil
}

// Close is a no-op for the mock backend.
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
