package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/skeletrain/internal/app"
	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/dataset"
	"github.com/ayusman/skeletrain/internal/sensor"
	"github.com/ayusman/skeletrain/internal/skeleton"
	"github.com/ayusman/skeletrain/internal/store"
)

func TestAPI_PoseWorkflow(t *testing.T) {
	tmpDir := t.TempDir()
	s, _ := store.New(filepath.Join(tmpDir, "test.db"))
	defer s.Close()

	srv := New(Config{Store: s})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	// 1. Create a pose
	createBody := `{"name": "t_pose", "description": "arms out"}`
	resp, err := client.Post(ts.URL+"/api/poses", "application/json", bytes.NewBufferString(createBody))
	if err != nil {
		t.Fatalf("POST /api/poses error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var created struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	if created.Name != "t_pose" {
		t.Errorf("created name = %s, want t_pose", created.Name)
	}

	// 2. List poses
	resp, _ = client.Get(ts.URL + "/api/poses")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/poses status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var listed struct {
		Poses []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"poses"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()

	if len(listed.Poses) != 1 {
		t.Fatalf("len(poses) = %d, want 1", len(listed.Poses))
	}

	// 3. Recordings of the new pose
	resp, _ = client.Get(ts.URL + "/api/poses/" + created.ID + "/recordings")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET recordings status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resp.Body.Close()

	// 4. Delete pose
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/poses/"+created.ID, nil)
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp.Body.Close()

	// 5. Verify deleted
	resp, _ = client.Get(ts.URL + "/api/poses/" + created.ID)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp.Body.Close()
}

func TestAPI_RecordWorkflow(t *testing.T) {
	tmpDir := t.TempDir()
	s, _ := store.New(filepath.Join(tmpDir, "test.db"))
	defer s.Close()

	headerPath := filepath.Join(tmpDir, "header.txt")
	os.WriteFile(headerPath, []byte("@DATA\n"), 0644)
	datasetPath := filepath.Join(tmpDir, "output.arff")

	backend := sensor.NewMockBackend()
	backend.SetNeedPose(false)
	backend.QueueFrame(&sensor.Frame{Events: []calibration.Event{calibration.UserAppeared(1)}})
	backend.QueueFrame(&sensor.Frame{Events: []calibration.Event{calibration.CalibrationComplete(1, calibration.StatusOK)}})
	backend.QueueFrame(&sensor.Frame{})

	joints := make(skeleton.Joints)
	for i, j := range skeleton.AllJoints() {
		joints[j] = skeleton.JointSample{Joint: j, Position: skeleton.Point3D{X: float64(i * 10), Y: float64(i * 20), Z: 2000}, Confidence: 1}
	}
	backend.SetJoints(1, joints)

	a, err := app.New(app.Config{
		Backend:  backend,
		Recorder: dataset.NewRecorder(dataset.Config{Path: datasetPath, HeaderPath: headerPath}),
		Store:    s,
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ts := httptest.NewServer(New(Config{Store: s, Session: a}))
	defer ts.Close()
	client := ts.Client()

	// 1. The user is tracked
	resp, _ := client.Get(ts.URL + "/api/users")
	var snap struct {
		Users []struct {
			ID    int    `json:"id"`
			Phase string `json:"phase"`
			Bones []any  `json:"bones"`
		} `json:"users"`
	}
	json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if len(snap.Users) != 1 || snap.Users[0].Phase != "tracking" || len(snap.Users[0].Bones) != 15 {
		t.Fatalf("unexpected users %+v", snap.Users)
	}

	// 2. Switch label
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/label", strings.NewReader(`{"label":"crouch"}`))
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /api/label status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resp.Body.Close()

	// 3. Record twice
	for i := 0; i < 2; i++ {
		resp, _ = client.Post(ts.URL+"/api/record", "application/json", nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("POST /api/record status = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
		resp.Body.Close()
	}

	data, err := os.ReadFile(datasetPath)
	if err != nil {
		t.Fatalf("failed to read dataset: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 3 || lines[0] != "@DATA" {
		t.Fatalf("unexpected dataset %q", data)
	}
	if !strings.HasSuffix(lines[1], ",crouch") || lines[1] != lines[2] {
		t.Errorf("unexpected records %q", lines[1:])
	}

	// 4. The catalogue counts the samples
	pose, err := s.Poses().GetByName("crouch")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if pose.Samples != 2 {
		t.Errorf("samples = %d, want 2", pose.Samples)
	}
}

func TestAPI_HealthCheck(t *testing.T) {
	srv := New(Config{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
}
