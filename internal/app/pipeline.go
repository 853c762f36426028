package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/depthview"
	"github.com/ayusman/skeletrain/internal/sensor"
	"github.com/ayusman/skeletrain/internal/skeleton"
)

// ErrNoFrame is returned by Preview before the first frame has arrived.
var ErrNoFrame = errors.New("no frame received yet")

// Run is the sensor loop. Each iteration waits for the next frame, which
// paces the loop at the sensor rate. It returns nil when the stream ends or
// ctx is cancelled, and the error otherwise.
//
// Loop logic:
// 1. Wait for the next frame
// 2. Hand its events to the tracker in order
// 3. Restart calibrations that timed out
// 4. Refresh the joints of every tracked user
// 5. Publish a snapshot to subscribers
func (a *App) Run(ctx context.Context) error {
	for {
		err := a.Step(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, sensor.ErrEndOfStream):
			log.Println("Sensor stream ended")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case ctx.Err() != nil:
			// Stop closed the backend under a pending read.
			return nil
		default:
			return err
		}
	}
}

// Step runs one iteration of the sensor loop. Errors concerning a single user
// are logged; only frame acquisition errors are returned.
func (a *App) Step(ctx context.Context) error {
	frame, err := a.backend.WaitFrame(ctx)
	if err != nil {
		return err
	}

	for _, ev := range frame.Events {
		if err := a.tracker.HandleEvent(ev); err != nil {
			log.Printf("Ignoring event %s: %v", ev, err)
		}
	}

	a.tracker.Expire()

	for _, id := range a.tracker.TrackingUsers() {
		joints, err := sensor.ReadJoints(a.backend, id)
		if err != nil {
			log.Printf("Failed to read joints: %v", err)
			continue
		}
		if err := a.tracker.UpdateJoints(id, joints); err != nil {
			log.Printf("Failed to update joints: %v", err)
		}
	}

	a.mu.Lock()
	a.lastFrame = frame
	a.frames++
	a.mu.Unlock()

	a.publish(a.Snapshot())
	return nil
}

// UserSnapshot is the published view of one user.
type UserSnapshot struct {
	ID       int               `json:"id"`
	Phase    calibration.Phase `json:"phase"`
	Label    string            `json:"label"`
	Aborted  bool              `json:"aborted,omitempty"`
	Attempts int               `json:"attempts"`
	Since    time.Time         `json:"since"`
	// Bones is set for tracked users whose joints produced a feature set.
	Bones      skeleton.BoneVectorSet `json:"bones,omitempty"`
	Degenerate []string               `json:"degenerate,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Snapshot is the published state after one frame.
type Snapshot struct {
	Frame     uint64         `json:"frame"`
	Timestamp time.Time      `json:"timestamp"`
	Label     string         `json:"label"`
	Recorded  int            `json:"recorded"`
	Users     []UserSnapshot `json:"users"`
}

// Snapshot returns the current state of every known user.
func (a *App) Snapshot() Snapshot {
	a.mu.RLock()
	snap := Snapshot{Frame: a.frames, Label: a.label, Recorded: a.recorder.Count()}
	if a.lastFrame != nil {
		snap.Timestamp = a.lastFrame.Timestamp
	}
	a.mu.RUnlock()

	states := a.tracker.Users()
	snap.Users = make([]UserSnapshot, 0, len(states))
	for _, s := range states {
		us := UserSnapshot{
			ID:       s.ID,
			Phase:    s.Phase,
			Label:    a.tracker.Label(s.ID),
			Aborted:  s.Aborted,
			Attempts: s.Attempts,
			Since:    s.Since,
		}
		if s.Phase == calibration.Tracking && len(s.Joints) > 0 {
			set, err := a.extractor.Extract(s.Joints)
			var degenerate *skeleton.DegenerateBoneError
			switch {
			case err == nil:
				us.Bones = set
			case errors.As(err, &degenerate):
				us.Bones = set
				us.Degenerate = degenerate.Bones
			default:
				us.Error = err.Error()
			}
		}
		snap.Users = append(snap.Users, us)
	}
	return snap
}

// Subscribe returns a channel receiving a snapshot after every frame, and a
// function to cancel the subscription. Snapshots are dropped for subscribers
// that fall behind.
func (a *App) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)

	a.subMu.Lock()
	a.subscribers[ch] = struct{}{}
	a.subMu.Unlock()

	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if _, ok := a.subscribers[ch]; ok {
			delete(a.subscribers, ch)
			close(ch)
		}
	}
}

func (a *App) publish(s Snapshot) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	for ch := range a.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// Preview renders the most recent frame with user overlays as a JPEG.
func (a *App) Preview() ([]byte, error) {
	a.mu.RLock()
	frame := a.lastFrame
	a.mu.RUnlock()

	if frame == nil {
		return nil, ErrNoFrame
	}

	snap := a.Snapshot()
	overlays := make([]depthview.UserOverlay, 0, len(snap.Users))
	for _, u := range snap.Users {
		o := depthview.UserOverlay{ID: u.ID, Label: u.Label, Bones: u.Bones}
		if u.Phase == calibration.Tracking {
			joints, err := a.tracker.Joints(u.ID)
			if err == nil {
				o.Joints = a.projectJoints(joints)
			}
		}
		overlays = append(overlays, o)
	}

	data, err := a.renderer.EncodeJPEG(frame, overlays)
	if err != nil {
		return nil, fmt.Errorf("render preview: %w", err)
	}
	return data, nil
}

func (a *App) projectJoints(joints skeleton.Joints) skeleton.Joints {
	out := make(skeleton.Joints, len(joints))
	for id, s := range joints {
		if s.Available() {
			p, err := a.backend.RealWorldToProjective(s.Position)
			if err != nil {
				s = skeleton.Unavailable(id)
			} else {
				s.Position = p
			}
		}
		out[id] = s
	}
	return out
}
