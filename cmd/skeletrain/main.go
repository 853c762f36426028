package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/skeletrain/internal/app"
	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/dataset"
	"github.com/ayusman/skeletrain/internal/depthview"
	"github.com/ayusman/skeletrain/internal/sensor"
	"github.com/ayusman/skeletrain/internal/server"
	"github.com/ayusman/skeletrain/internal/skeleton"
	"github.com/ayusman/skeletrain/internal/store"
	"github.com/ayusman/skeletrain/internal/tray"
)

type options struct {
	addr               string
	replay             string
	replayInterval     time.Duration
	bridge             string
	dataset            string
	header             string
	db                 string
	label              string
	jointPolicy        string
	recordDegenerate   bool
	calibrationTimeout time.Duration
	tray               bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.addr, "addr", getEnv("SKELETRAIN_ADDR", ":8080"), "HTTP listen address")
	flag.StringVar(&o.replay, "replay", getEnv("SKELETRAIN_REPLAY", ""), "play back a recorded frame file instead of a live sensor")
	flag.DurationVar(&o.replayInterval, "replay-interval", getEnvDuration("SKELETRAIN_REPLAY_INTERVAL", 33*time.Millisecond), "delay between replayed frames")
	flag.StringVar(&o.bridge, "bridge", getEnv("SKELETRAIN_BRIDGE", ""), "sensor bridge executable (default: scripts/openni_bridge.py)")
	flag.StringVar(&o.dataset, "dataset", getEnv("SKELETRAIN_DATASET", dataset.DefaultPath), "dataset file samples are appended to")
	flag.StringVar(&o.header, "header", getEnv("SKELETRAIN_HEADER", dataset.DefaultHeaderPath), "header copied into a new dataset file")
	flag.StringVar(&o.db, "db", getEnv("SKELETRAIN_DB", ""), "pose catalogue database (default: ~/.skeletrain/skeletrain.db)")
	flag.StringVar(&o.label, "label", getEnv("SKELETRAIN_LABEL", ""), "label for recorded samples")
	flag.StringVar(&o.jointPolicy, "joint-policy", getEnv("SKELETRAIN_JOINT_POLICY", "origin"), "zero confidence joints: origin or reject")
	flag.BoolVar(&o.recordDegenerate, "record-degenerate", getEnvBool("SKELETRAIN_RECORD_DEGENERATE", false), "record samples with zero-length bones")
	flag.DurationVar(&o.calibrationTimeout, "calibration-timeout", getEnvDuration("SKELETRAIN_CALIBRATION_TIMEOUT", 0), "restart calibrations that take longer than this (0 disables)")
	flag.BoolVar(&o.tray, "tray", getEnvBool("SKELETRAIN_TRAY", false), "show a system tray menu")
	flag.Parse()
	return o
}

func main() {
	fmt.Println("Skeletrain - Skeleton Pose Recorder")

	opts := parseFlags()

	policy, err := skeleton.ParsePolicy(opts.jointPolicy)
	if err != nil {
		log.Fatalf("Invalid -joint-policy: %v", err)
	}

	// Initialize the store
	dbPath := opts.db
	if dbPath == "" {
		dbPath, err = defaultDBPath()
		if err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}
	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	backend, err := openBackend(opts)
	if err != nil {
		log.Fatalf("Failed to open sensor: %v", err)
	}

	a, err := app.New(app.Config{
		Backend: backend,
		Recorder: dataset.NewRecorder(dataset.Config{
			Path:       opts.dataset,
			HeaderPath: opts.header,
		}),
		Store:              st,
		CalibrationTimeout: opts.calibrationTimeout,
		JointPolicy:        policy,
		RecordDegenerate:   opts.recordDegenerate,
		Render:             depthview.DefaultOptions(),
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if opts.label != "" {
		if err := a.SetLabel(opts.label); err != nil {
			log.Fatalf("Invalid -label: %v", err)
		}
	}
	fmt.Printf("Recording %s samples to %s\n", a.Label(), opts.dataset)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		log.Fatalf("Failed to start sensor loop: %v", err)
	}
	defer a.Stop()

	// Find web directory
	webDir := findWebDir()
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Session:   a,
	})

	go func() {
		fmt.Printf("Starting server on %s\n", opts.addr)
		if err := srv.ListenAndServe(opts.addr); err != nil {
			log.Printf("Server failed: %v", err)
			stop()
		}
	}()

	if opts.tray {
		runTray(ctx, stop, a, opts.addr)
	} else {
		select {
		case <-ctx.Done():
		case <-a.Done():
		}
	}

	if err := a.Err(); err != nil {
		log.Printf("Sensor loop failed: %v", err)
	}
	fmt.Println("Shutting down")
}

// openBackend picks the replay file when one is given and the live bridge otherwise.
func openBackend(opts options) (sensor.Backend, error) {
	cfg := sensor.DefaultStreamConfig()

	if opts.replay != "" {
		cfg.FrameInterval = opts.replayInterval
		fmt.Printf("Replaying frames from: %s\n", opts.replay)
		return sensor.NewReplayBackend(opts.replay, cfg)
	}

	return sensor.NewBridgeBackend(opts.bridge, nil, cfg)
}

// runTray shows the tray menu until Quit is clicked or ctx is cancelled.
func runTray(ctx context.Context, stop context.CancelFunc, a *app.App, addr string) {
	t := tray.New(a.Label())

	t.OnRecord(func() {
		sample, err := a.RecordSample(0, "")
		if err != nil {
			log.Printf("Failed to record sample: %v", err)
			t.SetLastSample("failed")
			return
		}
		t.SetLastSample(fmt.Sprintf("%s (user %d)", sample.Label, sample.User))
	})
	t.OnRecalibrate(func() {
		for _, u := range a.Snapshot().Users {
			if u.Phase == calibration.Tracking {
				continue
			}
			if err := a.Recalibrate(u.ID); err != nil {
				log.Printf("Failed to recalibrate user %d: %v", u.ID, err)
			}
		}
	})
	t.OnPreview(func() {
		openBrowser(previewURL(addr))
	})
	t.OnQuit(stop)

	snapshots, cancel := a.Subscribe()
	defer cancel()
	go t.Follow(snapshots)

	go func() {
		select {
		case <-ctx.Done():
		case <-a.Done():
		}
		t.Quit()
	}()

	t.Run()
}

func previewURL(addr string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/"
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open browser: %v", err)
	}
}

func defaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dbDir := filepath.Join(homeDir, ".skeletrain")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dbDir, "skeletrain.db"), nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.skeletrain/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".skeletrain", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		log.Printf("Ignoring %s: %v", key, err)
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		log.Printf("Ignoring %s: %v", key, err)
		return fallback
	}
	return v
}
