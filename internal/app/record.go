package app

import (
	"errors"
	"fmt"
	"log"

	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/skeleton"
	"github.com/ayusman/skeletrain/internal/store"
)

// ErrNoTrackedUser is returned when a sample is requested while nobody is tracked.
var ErrNoTrackedUser = errors.New("no tracked user")

// Sample describes one recorded dataset line.
type Sample struct {
	User       int                    `json:"user"`
	Label      string                 `json:"label"`
	Bones      skeleton.BoneVectorSet `json:"bones"`
	Degenerate []string               `json:"degenerate,omitempty"`
	Dataset    string                 `json:"dataset"`
}

// RecordSample extracts the bone vectors of a tracked user and appends them
// to the dataset under label. User 0 selects the lowest tracked user id and
// an empty label selects the current one.
func (a *App) RecordSample(user int, label string) (*Sample, error) {
	if user == 0 {
		ids := a.tracker.TrackingUsers()
		if len(ids) == 0 {
			return nil, ErrNoTrackedUser
		}
		user = ids[0]
	}
	if label == "" {
		label = a.Label()
	}

	joints, err := a.tracker.Joints(user)
	if err != nil {
		return nil, err
	}
	if len(joints) == 0 {
		return nil, fmt.Errorf("user %d has no joint data yet: %w", user, calibration.ErrWrongPhase)
	}

	set, err := a.extractor.Extract(joints)
	var degenerate *skeleton.DegenerateBoneError
	if errors.As(err, &degenerate) {
		if !a.config.RecordDegenerate {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if err := a.recorder.Record(label, set); err != nil {
		return nil, err
	}

	sample := &Sample{
		User:    user,
		Label:   label,
		Bones:   set,
		Dataset: a.recorder.Path(),
	}
	if degenerate != nil {
		sample.Degenerate = degenerate.Bones
	}

	if a.config.Store != nil {
		a.catalog(sample)
	}
	return sample, nil
}

// catalog logs the recording in the store. The dataset file is authoritative,
// so failures here are only logged.
func (a *App) catalog(s *Sample) {
	pose, err := a.config.Store.Poses().EnsureByName(s.Label)
	if err != nil {
		log.Printf("Failed to register pose %s: %v", s.Label, err)
		return
	}

	rec := &store.Recording{
		PoseID:     pose.ID,
		UserID:     s.User,
		Dataset:    s.Dataset,
		Degenerate: len(s.Degenerate) > 0,
	}
	if err := a.config.Store.Recordings().Create(rec); err != nil {
		log.Printf("Failed to catalogue recording for %s: %v", s.Label, err)
	}
}
