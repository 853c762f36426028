package tray

import (
	"fmt"

	"github.com/ayusman/skeletrain/internal/app"
	"github.com/ayusman/skeletrain/internal/calibration"
)

// StatusLine summarises a snapshot for the menu, e.g. "2 users, 1 tracking".
func StatusLine(s app.Snapshot) string {
	if len(s.Users) == 0 {
		return "No users"
	}

	tracking := 0
	for _, u := range s.Users {
		if u.Phase == calibration.Tracking {
			tracking++
		}
	}

	noun := "users"
	if len(s.Users) == 1 {
		noun = "user"
	}
	return fmt.Sprintf("%d %s, %d tracking", len(s.Users), noun, tracking)
}

// Follow updates the status and label lines from snapshots until the channel closes.
func (t *Tray) Follow(snapshots <-chan app.Snapshot) {
	for s := range snapshots {
		t.SetStatus(StatusLine(s))
		if s.Label != t.Label() {
			t.SetLabel(s.Label)
		}
	}
}
