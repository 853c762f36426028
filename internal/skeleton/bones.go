package skeleton

import (
	"fmt"
	"strings"
)

// FeatureScale is the length every bone vector is scaled to after normalization.
const FeatureScale = 50.0

// Bone is a named displacement from one joint to another.
type Bone struct {
	Name string
	From JointID
	To   JointID
}

// bones is the ordered bone topology. The order is the column order of the
// recorded dataset, so append new bones at the end.
var bones = []Bone{
	{"neck", Head, Neck},
	{"left_shoulder", Neck, LeftShoulder},
	{"left_elbow", LeftShoulder, LeftElbow},
	{"left_hand", LeftElbow, LeftHand},
	{"right_shoulder", Neck, RightShoulder},
	{"right_elbow", RightShoulder, RightElbow},
	{"right_hand", RightElbow, RightHand},
	{"left_wing", LeftShoulder, Torso},
	{"right_side", Torso, RightHip},
	{"right_knee", RightHip, RightKnee},
	{"right_foot", RightKnee, RightFoot},
	{"right_wing", RightShoulder, Torso},
	{"left_side", Torso, LeftHip},
	{"left_knee", LeftHip, LeftKnee},
	{"left_foot", LeftKnee, LeftFoot},
}

// DefaultBones returns a copy of the standard 15-bone topology.
func DefaultBones() []Bone {
	out := make([]Bone, len(bones))
	copy(out, bones)
	return out
}

// LowConfidencePolicy decides what happens to a joint reported with zero confidence.
type LowConfidencePolicy int

const (
	// SubstituteOrigin places unusable joints at the origin. Bones touching
	// such a joint then point at or away from the origin.
	SubstituteOrigin LowConfidencePolicy = iota
	// RejectLowConfidence fails the extraction with a *LowConfidenceError.
	RejectLowConfidence
)

func (p LowConfidencePolicy) String() string {
	switch p {
	case SubstituteOrigin:
		return "origin"
	case RejectLowConfidence:
		return "reject"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses "origin" or "reject".
func ParsePolicy(s string) (LowConfidencePolicy, error) {
	switch s {
	case "", "origin":
		return SubstituteOrigin, nil
	case "reject":
		return RejectLowConfidence, nil
	}
	return 0, fmt.Errorf("unknown low confidence policy %q", s)
}

// MissingJointError reports a joint that is absent from the input map.
type MissingJointError struct {
	Joint JointID
}

func (e *MissingJointError) Error() string {
	return fmt.Sprintf("missing joint %s", e.Joint)
}

// LowConfidenceError reports a zero-confidence joint under RejectLowConfidence.
type LowConfidenceError struct {
	Joint JointID
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("joint %s has zero confidence", e.Joint)
}

// DegenerateBoneError lists bones whose endpoints coincide. It is returned
// together with a complete set in which those bones hold the zero vector, so
// the caller may either drop the sample or keep the zero vectors.
type DegenerateBoneError struct {
	Bones []string
}

func (e *DegenerateBoneError) Error() string {
	return fmt.Sprintf("degenerate bones: %s", strings.Join(e.Bones, ", "))
}

func (e *DegenerateBoneError) Unwrap() error {
	return ErrDegenerate
}

// BoneVector is one scaled, normalized bone.
type BoneVector struct {
	Bone       Bone     `json:"-"`
	Name       string   `json:"name"`
	Vector     Vector3D `json:"vector"`
	Degenerate bool     `json:"degenerate,omitempty"`
}

// BoneVectorSet is the ordered feature vector for one skeleton.
type BoneVectorSet []BoneVector

// Fields returns each vector encoded as "x:y:z" in bone order.
func (s BoneVectorSet) Fields() []string {
	fields := make([]string, len(s))
	for i, bv := range s {
		fields[i] = bv.Vector.String()
	}
	return fields
}

// Extractor converts joint positions into bone vectors.
type Extractor struct {
	Bones  []Bone
	Scale  float64
	Policy LowConfidencePolicy
}

// NewExtractor returns an extractor for the default topology and scale.
func NewExtractor(policy LowConfidencePolicy) *Extractor {
	return &Extractor{
		Bones:  DefaultBones(),
		Scale:  FeatureScale,
		Policy: policy,
	}
}

// Extract computes the bone vectors for the given joints using the default extractor.
func Extract(joints Joints) (BoneVectorSet, error) {
	return NewExtractor(SubstituteOrigin).Extract(joints)
}

// Extract computes one normalized, scaled vector per bone, in bone order.
//
// Every joint named by a bone must be present in joints; a missing joint is a
// caller bug and yields *MissingJointError. Zero-confidence joints are handled
// according to the extractor's policy. If some bones have zero length the full
// set is returned along with a *DegenerateBoneError.
func (e *Extractor) Extract(joints Joints) (BoneVectorSet, error) {
	for _, b := range e.Bones {
		for _, j := range [2]JointID{b.From, b.To} {
			if _, ok := joints[j]; !ok {
				return nil, &MissingJointError{Joint: j}
			}
		}
	}

	set := make(BoneVectorSet, len(e.Bones))
	var degenerate []string

	for i, b := range e.Bones {
		from, err := e.position(b.From, joints[b.From])
		if err != nil {
			return nil, err
		}
		to, err := e.position(b.To, joints[b.To])
		if err != nil {
			return nil, err
		}

		bv := BoneVector{Bone: b, Name: b.Name}
		unit, err := NewVector(from, to).Normalize()
		if err != nil {
			bv.Degenerate = true
			degenerate = append(degenerate, b.Name)
		} else {
			bv.Vector = unit.Scale(e.Scale)
		}
		set[i] = bv
	}

	if len(degenerate) > 0 {
		return set, &DegenerateBoneError{Bones: degenerate}
	}
	return set, nil
}

func (e *Extractor) position(j JointID, s JointSample) (Point3D, error) {
	if s.Available() {
		return s.Position, nil
	}
	if e.Policy == RejectLowConfidence {
		return Point3D{}, &LowConfidenceError{Joint: j}
	}
	return Point3D{}, nil
}
