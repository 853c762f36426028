package calibration

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ayusman/skeletrain/internal/skeleton"
)

var (
	// ErrUnknownUser is returned for an operation on a user with no state entry.
	ErrUnknownUser = errors.New("unknown user")
	// ErrDuplicateUser is returned when a user appears twice without being lost.
	ErrDuplicateUser = errors.New("user already known")
	// ErrWrongPhase is returned when an event arrives in a phase that does not accept it.
	ErrWrongPhase = errors.New("event not valid in current phase")
)

// Phase is the position of a user in the calibration lifecycle.
type Phase int

const (
	AwaitingPose Phase = iota
	Calibrating
	Tracking
)

func (p Phase) String() string {
	switch p {
	case AwaitingPose:
		return "awaiting_pose"
	case Calibrating:
		return "calibrating"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Backend is the subset of the sensor capabilities the tracker drives.
type Backend interface {
	// NeedPoseForCalibration reports whether calibration must be preceded by pose detection.
	NeedPoseForCalibration() bool
	// CalibrationPose returns the name of the pose that triggers calibration.
	CalibrationPose() string
	StartPoseDetection(pose string, user int) error
	StopPoseDetection(user int) error
	RequestCalibration(user int, force bool) error
	StartTracking(user int) error
}

// CalibrationAborter is implemented by backends that can cancel an in-flight calibration.
type CalibrationAborter interface {
	AbortCalibration(user int) error
}

// TrackingStopper is implemented by backends that can stop skeleton tracking for a user.
type TrackingStopper interface {
	StopTracking(user int) error
}

// BackendCallError wraps a failed backend operation for one user.
type BackendCallError struct {
	Op   string
	User int
	Err  error
}

func (e *BackendCallError) Error() string {
	return fmt.Sprintf("%s for user %d: %v", e.Op, e.User, e.Err)
}

func (e *BackendCallError) Unwrap() error {
	return e.Err
}

// UserState is a snapshot of one user's lifecycle.
type UserState struct {
	ID       int             `json:"id"`
	Phase    Phase           `json:"phase"`
	Aborted  bool            `json:"aborted,omitempty"`
	Attempts int             `json:"attempts"`
	Since    time.Time       `json:"since"`
	Joints   skeleton.Joints `json:"joints,omitempty"`
}

// user is the owned per-user entry. poseDetecting and calibrating record
// requests issued to the backend that have not completed yet.
type user struct {
	id            int
	phase         Phase
	since         time.Time
	attempts      int
	aborted       bool
	poseDetecting bool
	calibrating   bool
	joints        skeleton.Joints
}

func (u *user) snapshot() UserState {
	return UserState{
		ID:       u.id,
		Phase:    u.phase,
		Aborted:  u.aborted,
		Attempts: u.attempts,
		Since:    u.since,
		Joints:   u.joints.Clone(),
	}
}

// Config holds configuration options for the tracker.
type Config struct {
	// Timeout restarts the calibration cycle of a user that stays in
	// AwaitingPose or Calibrating longer than this. Zero disables it.
	Timeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Tracker owns the per-user calibration state. Events must be handed to
// HandleEvent in the order the backend raised them; reads are safe from any
// goroutine.
type Tracker struct {
	backend Backend
	config  Config
	users   map[int]*user
	mu      sync.RWMutex
}

// New creates a Tracker driving the given backend.
func New(backend Backend, config Config) *Tracker {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Tracker{
		backend: backend,
		config:  config,
		users:   make(map[int]*user),
	}
}

// HandleEvent applies one backend notification. Backend failures during the
// resulting actions are logged and leave the user's phase unchanged; the
// returned error only reports events that did not apply to the current state.
func (t *Tracker) HandleEvent(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case EventUserAppeared:
		return t.userAppeared(ev.User)
	case EventUserLost:
		return t.userLost(ev.User)
	case EventPoseDetected:
		return t.poseDetected(ev.User, ev.Pose)
	case EventCalibrationComplete:
		return t.calibrationComplete(ev.User, ev.Status)
	default:
		return fmt.Errorf("unknown event kind %d", int(ev.Kind))
	}
}

func (t *Tracker) userAppeared(id int) error {
	if _, ok := t.users[id]; ok {
		return fmt.Errorf("user %d: %w", id, ErrDuplicateUser)
	}

	log.Printf("New user %d", id)
	u := &user{id: id, phase: AwaitingPose, since: t.config.Now()}
	t.users[id] = u
	t.beginCycle(u)
	return nil
}

func (t *Tracker) userLost(id int) error {
	u, ok := t.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, ErrUnknownUser)
	}

	log.Printf("Lost user %d", id)
	t.cancelOutstanding(u)
	if u.phase == Tracking {
		if s, ok := t.backend.(TrackingStopper); ok {
			if err := s.StopTracking(id); err != nil {
				t.logFailure("stop tracking", id, err)
			}
		}
	}
	delete(t.users, id)
	return nil
}

func (t *Tracker) poseDetected(id int, pose string) error {
	u, ok := t.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, ErrUnknownUser)
	}
	if u.phase != AwaitingPose {
		return fmt.Errorf("pose detected for user %d in %s: %w", id, u.phase, ErrWrongPhase)
	}

	log.Printf("Pose %s detected for user %d", pose, id)
	if err := t.backend.StopPoseDetection(id); err != nil {
		t.logFailure("stop pose detection", id, err)
		return nil
	}
	u.poseDetecting = false
	t.requestCalibration(u)
	return nil
}

func (t *Tracker) calibrationComplete(id int, status Status) error {
	u, ok := t.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, ErrUnknownUser)
	}
	if u.phase != Calibrating {
		return fmt.Errorf("calibration complete for user %d in %s: %w", id, u.phase, ErrWrongPhase)
	}

	log.Printf("Calibration complete for user %d: %s", id, status)
	u.calibrating = false

	switch status {
	case StatusOK:
		log.Printf("Starting tracking for user %d", id)
		if err := t.backend.StartTracking(id); err != nil {
			t.logFailure("start tracking", id, err)
			return nil
		}
		t.setPhase(u, Tracking)
		u.joints = make(skeleton.Joints)
	case StatusManualAbort:
		u.aborted = true
	default:
		u.attempts++
		t.beginCycle(u)
		if !u.calibrating && !u.poseDetecting {
			log.Printf("No calibration request outstanding for user %d until it is recalibrated", id)
		}
	}
	return nil
}

// Recalibrate restarts the calibration cycle for a user that is not tracking.
// It is a no-op while a calibration request is already outstanding.
func (t *Tracker) Recalibrate(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, ErrUnknownUser)
	}
	if u.phase == Tracking {
		return fmt.Errorf("recalibrate user %d in %s: %w", id, u.phase, ErrWrongPhase)
	}
	if u.calibrating {
		return nil
	}
	u.aborted = false
	t.beginCycle(u)
	return nil
}

// Expire restarts the cycle of users stuck before tracking longer than the
// configured timeout and returns their ids. Users whose calibration was
// manually aborted are left alone.
func (t *Tracker) Expire() []int {
	if t.config.Timeout <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.config.Now()
	var expired []int
	for _, id := range t.sortedIDs() {
		u := t.users[id]
		if u.phase == Tracking || u.aborted || now.Sub(u.since) < t.config.Timeout {
			continue
		}

		log.Printf("Calibration timed out for user %d after %s", id, now.Sub(u.since).Round(time.Millisecond))
		if !t.cancelOutstanding(u) {
			// The first request is still live at the backend; wait for its result.
			log.Printf("Cannot abort calibration for user %d, waiting for it to complete", id)
			u.since = now
			continue
		}
		u.attempts++
		u.since = now
		t.beginCycle(u)
		expired = append(expired, id)
	}
	return expired
}

// beginCycle issues the first request of a calibration cycle: pose detection
// when the backend needs it, otherwise a direct calibration request.
func (t *Tracker) beginCycle(u *user) {
	if !t.backend.NeedPoseForCalibration() {
		t.requestCalibration(u)
		return
	}
	if u.poseDetecting {
		return
	}

	pose := t.backend.CalibrationPose()
	if err := t.backend.StartPoseDetection(pose, u.id); err != nil {
		t.logFailure("start pose detection", u.id, err)
		return
	}
	u.poseDetecting = true
	t.setPhase(u, AwaitingPose)
}

// requestCalibration never issues a second request while one is outstanding.
func (t *Tracker) requestCalibration(u *user) {
	if u.calibrating {
		log.Printf("Calibration already in progress for user %d", u.id)
		return
	}
	if err := t.backend.RequestCalibration(u.id, true); err != nil {
		t.logFailure("request calibration", u.id, err)
		return
	}
	u.calibrating = true
	u.aborted = false
	t.setPhase(u, Calibrating)
}

// cancelOutstanding stops pose detection and aborts a pending calibration
// request. It reports false when a calibration request is still outstanding
// because the backend cannot abort it or the abort failed.
func (t *Tracker) cancelOutstanding(u *user) bool {
	if u.poseDetecting {
		if err := t.backend.StopPoseDetection(u.id); err != nil {
			t.logFailure("stop pose detection", u.id, err)
		}
		u.poseDetecting = false
	}
	if !u.calibrating {
		return true
	}

	a, ok := t.backend.(CalibrationAborter)
	if !ok {
		return false
	}
	if err := a.AbortCalibration(u.id); err != nil {
		t.logFailure("abort calibration", u.id, err)
		return false
	}
	u.calibrating = false
	return true
}

func (t *Tracker) setPhase(u *user, p Phase) {
	if u.phase != p {
		u.since = t.config.Now()
	}
	u.phase = p
}

func (t *Tracker) logFailure(op string, id int, err error) {
	log.Printf("Backend call failed: %v", &BackendCallError{Op: op, User: id, Err: err})
}

func (t *Tracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.users))
	for id := range t.users {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// UpdateJoints replaces the retained joints of a tracking user.
func (t *Tracker) UpdateJoints(id int, joints skeleton.Joints) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, ErrUnknownUser)
	}
	if u.phase != Tracking {
		return fmt.Errorf("update joints for user %d in %s: %w", id, u.phase, ErrWrongPhase)
	}
	u.joints = joints.Clone()
	return nil
}

// Joints returns a copy of the retained joints of a tracking user.
func (t *Tracker) Joints(id int) (skeleton.Joints, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	u, ok := t.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrUnknownUser)
	}
	if u.phase != Tracking {
		return nil, fmt.Errorf("joints for user %d in %s: %w", id, u.phase, ErrWrongPhase)
	}
	return u.joints.Clone(), nil
}

// User returns a snapshot of one user.
func (t *Tracker) User(id int) (UserState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	u, ok := t.users[id]
	if !ok {
		return UserState{}, false
	}
	return u.snapshot(), true
}

// Users returns snapshots of all known users ordered by id.
func (t *Tracker) Users() []UserState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]UserState, 0, len(t.users))
	for _, id := range t.sortedIDs() {
		states = append(states, t.users[id].snapshot())
	}
	return states
}

// TrackingUsers returns the ids of users in the Tracking phase, in order.
func (t *Tracker) TrackingUsers() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []int
	for _, id := range t.sortedIDs() {
		if t.users[id].phase == Tracking {
			ids = append(ids, id)
		}
	}
	return ids
}

// Label returns the on-screen status text for a user.
func (t *Tracker) Label(id int) string {
	s, ok := t.User(id)
	if !ok {
		return fmt.Sprintf("%d", id)
	}
	switch s.Phase {
	case Tracking:
		return fmt.Sprintf("%d - Tracking", id)
	case Calibrating:
		return fmt.Sprintf("%d - Calibrating", id)
	}
	if !t.backend.NeedPoseForCalibration() {
		return fmt.Sprintf("%d - Waiting for calibration", id)
	}
	return fmt.Sprintf("%d - Looking for pose (%s)", id, t.backend.CalibrationPose())
}
