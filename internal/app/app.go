// Package app drives the sensor loop: it feeds backend events to the
// calibration tracker, keeps joint data for tracked users and records
// labeled samples on request.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/dataset"
	"github.com/ayusman/skeletrain/internal/depthview"
	"github.com/ayusman/skeletrain/internal/sensor"
	"github.com/ayusman/skeletrain/internal/skeleton"
	"github.com/ayusman/skeletrain/internal/store"
)

// DefaultLabel is the sample label used until another one is set.
const DefaultLabel = "Psi"

// Config holds configuration options for the application.
type Config struct {
	Backend  sensor.Backend
	Recorder *dataset.Recorder
	// Store is optional. When set, labels and recordings are catalogued in it.
	Store *store.Store

	// CalibrationTimeout restarts calibration of users stuck before tracking. Zero disables it.
	CalibrationTimeout time.Duration
	JointPolicy        skeleton.LowConfidencePolicy
	// RecordDegenerate allows recording samples with zero-length bones as zero vectors.
	RecordDegenerate bool
	Render           depthview.Options
}

// App is the main application that owns the sensor loop.
type App struct {
	config    Config
	backend   sensor.Backend
	tracker   *calibration.Tracker
	extractor *skeleton.Extractor
	renderer  *depthview.Renderer
	recorder  *dataset.Recorder

	mu        sync.RWMutex
	label     string
	lastFrame *sensor.Frame
	frames    uint64
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error

	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}
}

// New creates a new App with the given configuration.
func New(config Config) (*App, error) {
	if config.Backend == nil {
		return nil, errors.New("app: no sensor backend")
	}
	if config.Recorder == nil {
		config.Recorder = dataset.NewRecorder(dataset.DefaultConfig())
	}

	a := &App{
		config:      config,
		backend:     config.Backend,
		tracker:     calibration.New(config.Backend, calibration.Config{Timeout: config.CalibrationTimeout}),
		extractor:   skeleton.NewExtractor(config.JointPolicy),
		renderer:    depthview.NewRenderer(config.Render),
		recorder:    config.Recorder,
		label:       DefaultLabel,
		subscribers: make(map[chan Snapshot]struct{}),
	}

	if config.Store != nil {
		if label, err := config.Store.GetSetting(store.SettingActiveLabel); err == nil {
			a.label = label
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to load active label: %v", err)
		}
	}

	return a, nil
}

// Tracker returns the calibration tracker.
func (a *App) Tracker() *calibration.Tracker {
	return a.tracker
}

// Recorder returns the dataset recorder.
func (a *App) Recorder() *dataset.Recorder {
	return a.recorder
}

// Store returns the catalogue store, or nil.
func (a *App) Store() *store.Store {
	return a.config.Store
}

// Label returns the label new samples are recorded under.
func (a *App) Label() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.label
}

// SetLabel changes the label new samples are recorded under.
func (a *App) SetLabel(label string) error {
	if err := dataset.ValidateLabel(label); err != nil {
		return err
	}

	if s := a.config.Store; s != nil {
		if _, err := s.Poses().EnsureByName(label); err != nil {
			return fmt.Errorf("register pose %q: %w", label, err)
		}
		if err := s.SetSetting(store.SettingActiveLabel, label); err != nil {
			return fmt.Errorf("save active label: %w", err)
		}
	}

	a.mu.Lock()
	a.label = label
	a.mu.Unlock()

	log.Printf("Recording label set to %s", label)
	return nil
}

// Recalibrate restarts calibration for a user that is not tracked yet,
// including one whose calibration was manually aborted.
func (a *App) Recalibrate(user int) error {
	return a.tracker.Recalibrate(user)
}

// Start runs the sensor loop in the background until Stop is called or the
// stream ends.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.runErr = nil

	go func(done chan struct{}) {
		err := a.Run(ctx)
		a.mu.Lock()
		a.runErr = err
		a.mu.Unlock()
		close(done)
	}(a.done)

	log.Println("Sensor loop started")
	return nil
}

// Stop halts the sensor loop, closes the backend and waits for the loop to
// exit. Closing first unblocks a loop waiting on a silent sensor.
func (a *App) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	err := a.backend.Close()
	if err != nil {
		log.Printf("Error closing sensor backend: %v", err)
	}

	if cancel != nil {
		<-done
	}

	log.Println("Sensor loop stopped")
	return err
}

// Done returns a channel closed when the background loop exits, or nil if it
// was never started.
func (a *App) Done() <-chan struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done
}

// Err returns the error the background loop exited with.
func (a *App) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runErr
}
