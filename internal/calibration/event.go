// Package calibration tracks each user through pose detection, skeleton
// calibration and tracking.
package calibration

import "fmt"

// EventKind identifies the notification carried by an Event.
type EventKind int

const (
	EventUserAppeared EventKind = iota + 1
	EventUserLost
	EventPoseDetected
	EventCalibrationComplete
)

var eventKindNames = map[EventKind]string{
	EventUserAppeared:        "user_appeared",
	EventUserLost:            "user_lost",
	EventPoseDetected:        "pose_detected",
	EventCalibrationComplete: "calibration_complete",
}

func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// ParseEventKind returns the kind with the given wire name.
func ParseEventKind(s string) (EventKind, error) {
	for k, n := range eventKindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Status is the result reported when a calibration attempt ends.
type Status int

const (
	StatusOK Status = iota
	StatusNoUser
	StatusArm
	StatusLeg
	StatusHead
	StatusTorso
	StatusTopFOV
	StatusSideFOV
	StatusPose
	StatusManualAbort
	StatusManualReset
	StatusTimeout
)

var statusNames = map[Status]string{
	StatusOK:          "ok",
	StatusNoUser:      "no_user",
	StatusArm:         "arm",
	StatusLeg:         "leg",
	StatusHead:        "head",
	StatusTorso:       "torso",
	StatusTopFOV:      "top_fov",
	StatusSideFOV:     "side_fov",
	StatusPose:        "pose",
	StatusManualAbort: "manual_abort",
	StatusManualReset: "manual_reset",
	StatusTimeout:     "timeout",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus returns the status with the given wire name.
func ParseStatus(s string) (Status, error) {
	for st, n := range statusNames {
		if n == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown calibration status %q", s)
}

// Event is a single backend notification about one user. Pose is set for
// EventPoseDetected, Status for EventCalibrationComplete.
type Event struct {
	Kind   EventKind
	User   int
	Pose   string
	Status Status
}

// UserAppeared returns the event raised when the backend segments a new user.
func UserAppeared(user int) Event {
	return Event{Kind: EventUserAppeared, User: user}
}

// UserLost returns the event raised when a user leaves the scene.
func UserLost(user int) Event {
	return Event{Kind: EventUserLost, User: user}
}

// PoseDetected returns the event raised when the calibration pose is recognised.
func PoseDetected(user int, pose string) Event {
	return Event{Kind: EventPoseDetected, User: user, Pose: pose}
}

// CalibrationComplete returns the event raised when a calibration attempt ends.
func CalibrationComplete(user int, status Status) Event {
	return Event{Kind: EventCalibrationComplete, User: user, Status: status}
}

func (e Event) String() string {
	switch e.Kind {
	case EventPoseDetected:
		return fmt.Sprintf("%s(user=%d, pose=%s)", e.Kind, e.User, e.Pose)
	case EventCalibrationComplete:
		return fmt.Sprintf("%s(user=%d, status=%s)", e.Kind, e.User, e.Status)
	default:
		return fmt.Sprintf("%s(user=%d)", e.Kind, e.User)
	}
}
