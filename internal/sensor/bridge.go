package sensor

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// NewReplayBackend creates a backend that plays back a recorded frame file.
// Commands are accepted and discarded.
func NewReplayBackend(path string, config StreamConfig) (*StreamBackend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}

	return NewStreamBackend(f, io.Discard, config), nil
}

// NewBridgeBackend starts a sensor bridge process and talks to it over its
// standard streams. The process writes frames to stdout and reads commands
// from stdin. Its stderr is passed through.
func NewBridgeBackend(path string, args []string, config StreamConfig) (*StreamBackend, error) {
	if path == "" {
		path = findBridgeScript()
	}
	if path == "" {
		return nil, fmt.Errorf("sensor bridge not found")
	}

	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sensor bridge: %w", err)
	}

	b := NewStreamBackend(stdout, stdin, config)
	b.closer = func() error {
		stdin.Close()
		return waitOrKill(cmd, bridgeExitTimeout)
	}
	return b, nil
}

// bridgeExitTimeout is how long a bridge gets to exit after its stdin closes.
const bridgeExitTimeout = 2 * time.Second

// waitOrKill waits for cmd to exit and kills it after timeout.
func waitOrKill(cmd *exec.Cmd, timeout time.Duration) error {
	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	select {
	case err := <-exited:
		return err
	case <-time.After(timeout):
		log.Printf("Sensor bridge did not exit after %s, killing it", timeout)
		cmd.Process.Kill()
		<-exited
		return nil
	}
}

func findBridgeScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/openni_bridge.py",
		"../scripts/openni_bridge.py",
		filepath.Join(execDir, "scripts/openni_bridge.py"),
		filepath.Join(os.Getenv("HOME"), ".skeletrain/scripts/openni_bridge.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
