package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/skeletrain/internal/app"
	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/gorilla/websocket"
)

// fakeSession is a test implementation of Session.
type fakeSession struct {
	frame   []byte
	updates chan app.Snapshot
}

func newFakeSession() *fakeSession {
	return &fakeSession{updates: make(chan app.Snapshot, 1)}
}

func (f *fakeSession) Snapshot() app.Snapshot {
	return app.Snapshot{Frame: 3, Users: []app.UserSnapshot{{ID: 1, Phase: calibration.Tracking}}}
}
func (f *fakeSession) Label() string { return "psi" }
func (f *fakeSession) SetLabel(string) error { return nil }
func (f *fakeSession) Recalibrate(int) error { return nil }
func (f *fakeSession) Subscribe() (<-chan app.Snapshot, func()) {
	return f.updates, func() {}
}

func (f *fakeSession) RecordSample(user int, label string) (*app.Sample, error) {
	return &app.Sample{User: 1, Label: "psi"}, nil
}

func (f *fakeSession) Preview() ([]byte, error) {
	if f.frame == nil {
		return nil, app.ErrNoFrame
	}
	return f.frame, nil
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
		if _, exists := response["frames"]; exists {
			t.Error("expected no 'frames' field without a session")
		}
	})

	t.Run("reports session counters", func(t *testing.T) {
		s := New(Config{Session: newFakeSession()})
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["frames"] != float64(3) || response["users"] != float64(1) {
			t.Errorf("unexpected counters %v", response)
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/nonexistent", "/api/poses", "/api/users", "/api/stream"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "<html><body>Skeleton preview</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cssContent := "body { color: red; }"
	if err := os.WriteFile(filepath.Join(tmpDir, "style.css"), []byte(cssContent), 0644); err != nil {
		t.Fatalf("failed to create test CSS file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html at root path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != testContent {
			t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
		}
	})

	t.Run("serves static files from configured directory", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != cssContent {
			t.Errorf("expected body %q, got %q", cssContent, rec.Body.String())
		}
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestStreamHandler(t *testing.T) {
	t.Run("writes MJPEG parts", func(t *testing.T) {
		session := newFakeSession()
		session.frame = []byte{0xFF, 0xD8, 0xFF, 0xD9}
		h := NewStreamHandler(session)

		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
			t.Errorf("unexpected Content-Type %q", ct)
		}
		body := rec.Body.String()
		if !strings.HasPrefix(body, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 4\r\n\r\n") {
			t.Errorf("unexpected part header %q", body)
		}
		if strings.Count(body, "--frame") < 2 {
			t.Errorf("expected several frames in 150ms, got %d", strings.Count(body, "--frame"))
		}
	})

	t.Run("waits for the first frame", func(t *testing.T) {
		h := NewStreamHandler(newFakeSession())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx))

		if rec.Body.Len() != 0 {
			t.Errorf("expected no frames, got %q", rec.Body.String())
		}
	})

	t.Run("only allows GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewStreamHandler(newFakeSession()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestSkeletonHandler(t *testing.T) {
	session := newFakeSession()
	ts := httptest.NewServer(New(Config{Session: session}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/skeleton"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	session.updates <- app.Snapshot{Frame: 42, Label: "psi"}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap struct {
		Frame uint64 `json:"frame"`
		Label string `json:"label"`
	}
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if snap.Frame != 42 || snap.Label != "psi" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	close(session.updates)
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
		t.Errorf("expected normal closure when the stream ends, got %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Run("creates server with config", func(t *testing.T) {
		cfg := Config{StaticDir: "/some/path"}
		s := New(cfg)

		if s == nil {
			t.Fatal("expected non-nil server")
		}

		if s.config.StaticDir != cfg.StaticDir {
			t.Errorf("expected StaticDir %s, got %s", cfg.StaticDir, s.config.StaticDir)
		}
	})

	t.Run("app implements Session", func(t *testing.T) {
		var _ Session = (*app.App)(nil)
	})
}
