// Package tray provides a system tray menu for recording samples without the browser.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onRecord      func()
	onRecalibrate func()
	onPreview     func()
	onQuit        func()
	label         string
	status        string
	mu            sync.RWMutex

	// Menu items stored for later updates
	menuStatus     *systray.MenuItem
	menuLabel      *systray.MenuItem
	menuLastSample *systray.MenuItem
}

// New creates a new Tray showing the given recording label.
func New(label string) *Tray {
	return &Tray{
		label:  label,
		status: "No users",
	}
}

// OnRecord sets the callback function to be called when the record menu item is clicked.
func (t *Tray) OnRecord(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRecord = fn
}

// OnRecalibrate sets the callback function to be called when the recalibrate menu item is clicked.
func (t *Tray) OnRecalibrate(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRecalibrate = fn
}

// OnPreview sets the callback function to be called when the preview menu item is clicked.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray menu and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Skeletrain")
	systray.SetTooltip("Skeleton pose recorder")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(t.status, "Tracked users")
	t.menuStatus.Disable()
	t.menuLabel = systray.AddMenuItem(labelTitle(t.label), "Label new samples are recorded under")
	t.menuLabel.Disable()
	t.menuLastSample = systray.AddMenuItem("Last: none", "Last recorded sample")
	t.menuLastSample.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuRecord := systray.AddMenuItem("Record sample", "Record the first tracked user")
	menuRecalibrate := systray.AddMenuItem("Recalibrate", "Restart calibration of untracked users")
	systray.AddSeparator()

	menuPreview := systray.AddMenuItem("Open Preview...", "Open the depth preview in the browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Skeletrain")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-menuRecord.ClickedCh:
				t.call(func() func() { return t.onRecord })
			case <-menuRecalibrate.ClickedCh:
				t.call(func() func() { return t.onRecalibrate })
			case <-menuPreview.ClickedCh:
				t.call(func() func() { return t.onPreview })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// call runs the callback returned by get outside the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.call(func() func() { return t.onQuit })
	systray.Quit()
}

// SetLabel updates the recording label shown in the menu.
func (t *Tray) SetLabel(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.label = label
	if t.menuLabel != nil {
		t.menuLabel.SetTitle(labelTitle(label))
	}
}

// SetStatus updates the tracking status line.
func (t *Tray) SetStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(status)
	}
}

// SetLastSample updates the last sample display in the menu.
func (t *Tray) SetLastSample(desc string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastSample != nil {
		if desc == "" {
			t.menuLastSample.SetTitle("Last: none")
		} else {
			t.menuLastSample.SetTitle("Last: " + desc)
		}
	}
}

// Label returns the label currently shown.
func (t *Tray) Label() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.label
}

// Status returns the status line currently shown.
func (t *Tray) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func labelTitle(label string) string {
	return "Label: " + label
}
