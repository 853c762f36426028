// Package skeleton provides joint types and the bone-vector feature extraction
// used to build pose training samples.
package skeleton

import "fmt"

// JointID identifies a tracked skeleton joint.
type JointID int

// Joints reported by the skeleton tracker with the full profile enabled.
const (
	Head JointID = iota
	Neck
	Torso
	LeftShoulder
	LeftElbow
	LeftHand
	RightShoulder
	RightElbow
	RightHand
	LeftHip
	LeftKnee
	LeftFoot
	RightHip
	RightKnee
	RightFoot
	NumJoints
)

var jointNames = [NumJoints]string{
	Head:          "head",
	Neck:          "neck",
	Torso:         "torso",
	LeftShoulder:  "left_shoulder",
	LeftElbow:     "left_elbow",
	LeftHand:      "left_hand",
	RightShoulder: "right_shoulder",
	RightElbow:    "right_elbow",
	RightHand:     "right_hand",
	LeftHip:       "left_hip",
	LeftKnee:      "left_knee",
	LeftFoot:      "left_foot",
	RightHip:      "right_hip",
	RightKnee:     "right_knee",
	RightFoot:     "right_foot",
}

// AllJoints returns every joint in declaration order.
func AllJoints() []JointID {
	joints := make([]JointID, NumJoints)
	for i := range joints {
		joints[i] = JointID(i)
	}
	return joints
}

func (j JointID) String() string {
	if j >= 0 && j < NumJoints {
		return jointNames[j]
	}
	return fmt.Sprintf("joint(%d)", int(j))
}

// ParseJoint returns the joint with the given name.
func ParseJoint(name string) (JointID, error) {
	for i, n := range jointNames {
		if n == name {
			return JointID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown joint %q", name)
}

// MarshalText encodes the joint by name so joint maps serialize with readable keys.
func (j JointID) MarshalText() ([]byte, error) {
	if j < 0 || j >= NumJoints {
		return nil, fmt.Errorf("invalid joint %d", int(j))
	}
	return []byte(jointNames[j]), nil
}

// UnmarshalText decodes a joint name.
func (j *JointID) UnmarshalText(text []byte) error {
	id, err := ParseJoint(string(text))
	if err != nil {
		return err
	}
	*j = id
	return nil
}

// Point3D represents a point with x, y, z coordinates in either real-world
// (millimetres) or projective (pixels, depth) space.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// JointSample is one joint position reported by the tracker.
// A Confidence of 0 means the position is unusable.
type JointSample struct {
	Joint      JointID `json:"joint"`
	Position   Point3D `json:"position"`
	Confidence float64 `json:"confidence"`
}

// Available reports whether the sample carries a usable position.
func (s JointSample) Available() bool {
	return s.Confidence > 0
}

// Unavailable returns the sentinel sample for a joint the tracker could not place.
func Unavailable(joint JointID) JointSample {
	return JointSample{Joint: joint}
}

// Joints maps each joint to its latest sample for one user.
type Joints map[JointID]JointSample

// Clone returns a copy of the map so callers can hold it across frames.
func (j Joints) Clone() Joints {
	if j == nil {
		return nil
	}
	out := make(Joints, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}
