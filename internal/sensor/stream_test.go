package sensor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/skeleton"
)

const sampleStream = `{"width":2,"height":2,"depth":[0,1000,1200,0],"users":[0,1,1,0],"events":[{"type":"user_appeared","user":1}],"timestamp":1000}
{"width":2,"height":2,"depth":[0,1000,1200,0],"users":[0,1,1,0],"events":[{"type":"pose_detected","user":1,"pose":"Psi"}],"timestamp":1033}
{"width":2,"height":2,"events":[{"type":"calibration_complete","user":1,"status":"ok"}],"joints":{"1":{"head":{"x":10,"y":20,"z":2000,"confidence":1},"neck":{"x":10,"y":0,"z":0,"confidence":0.5}}},"timestamp":1066}
`

func TestStreamBackend_WaitFrame(t *testing.T) {
	b := NewStreamBackend(strings.NewReader(sampleStream), &bytes.Buffer{}, DefaultStreamConfig())
	ctx := context.Background()

	t.Run("first frame", func(t *testing.T) {
		f, err := b.WaitFrame(ctx)
		if err != nil {
			t.Fatalf("WaitFrame failed: %v", err)
		}
		if f.Width != 2 || f.Height != 2 {
			t.Errorf("expected 2x2 frame, got %dx%d", f.Width, f.Height)
		}
		if len(f.Depth) != 4 || f.Depth[1] != 1000 {
			t.Errorf("unexpected depth %v", f.Depth)
		}
		if len(f.Events) != 1 || f.Events[0] != calibration.UserAppeared(1) {
			t.Errorf("expected user_appeared event, got %v", f.Events)
		}
		if !f.Timestamp.Equal(time.UnixMilli(1000)) {
			t.Errorf("unexpected timestamp %v", f.Timestamp)
		}
	})

	t.Run("pose event", func(t *testing.T) {
		f, err := b.WaitFrame(ctx)
		if err != nil {
			t.Fatalf("WaitFrame failed: %v", err)
		}
		if len(f.Events) != 1 || f.Events[0] != calibration.PoseDetected(1, "Psi") {
			t.Errorf("expected pose event, got %v", f.Events)
		}
	})

	t.Run("calibration and joints", func(t *testing.T) {
		f, err := b.WaitFrame(ctx)
		if err != nil {
			t.Fatalf("WaitFrame failed: %v", err)
		}
		if len(f.Events) != 1 || f.Events[0] != calibration.CalibrationComplete(1, calibration.StatusOK) {
			t.Errorf("expected calibration event, got %v", f.Events)
		}

		joints, err := ReadJoints(b, 1)
		if err != nil {
			t.Fatalf("ReadJoints failed: %v", err)
		}
		if len(joints) != int(skeleton.NumJoints) {
			t.Fatalf("expected %d joints, got %d", skeleton.NumJoints, len(joints))
		}
		head := joints[skeleton.Head]
		if !head.Available() || head.Position != (skeleton.Point3D{X: 10, Y: 20, Z: 2000}) {
			t.Errorf("unexpected head %+v", head)
		}
		// Reported at depth 0.
		if joints[skeleton.Neck].Available() {
			t.Error("expected neck to be unavailable")
		}
		// Not reported at all.
		if joints[skeleton.LeftFoot].Available() {
			t.Error("expected left foot to be unavailable")
		}
	})

	t.Run("end of stream", func(t *testing.T) {
		_, err := b.WaitFrame(ctx)
		if !errors.Is(err, ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got %v", err)
		}
	})
}

func TestStreamBackend_Errors(t *testing.T) {
	t.Run("malformed line", func(t *testing.T) {
		b := NewStreamBackend(strings.NewReader("not json\n"), &bytes.Buffer{}, DefaultStreamConfig())
		if _, err := b.WaitFrame(context.Background()); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		in := `{"events":[{"type":"exploded","user":1}]}` + "\n"
		b := NewStreamBackend(strings.NewReader(in), &bytes.Buffer{}, DefaultStreamConfig())
		if _, err := b.WaitFrame(context.Background()); err == nil {
			t.Error("expected event error")
		}
	})

	t.Run("depth size mismatch", func(t *testing.T) {
		in := `{"width":2,"height":2,"depth":[1,2,3]}` + "\n"
		b := NewStreamBackend(strings.NewReader(in), &bytes.Buffer{}, DefaultStreamConfig())
		if _, err := b.WaitFrame(context.Background()); err == nil {
			t.Error("expected size error")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		b := NewStreamBackend(strings.NewReader(""), &bytes.Buffer{}, DefaultStreamConfig())
		_, err := b.JointPosition(7, skeleton.Head)
		if !errors.Is(err, ErrUnknownUser) {
			t.Errorf("expected ErrUnknownUser, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		b := NewStreamBackend(strings.NewReader(sampleStream), &bytes.Buffer{}, DefaultStreamConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := b.WaitFrame(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestStreamBackend_SilentStream(t *testing.T) {
	t.Run("context deadline", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		b := NewStreamBackend(pr, io.Discard, DefaultStreamConfig())
		defer b.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		if _, err := b.WaitFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
	})

	t.Run("close unblocks a pending read", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		b := NewStreamBackend(pr, io.Discard, DefaultStreamConfig())

		result := make(chan error, 1)
		go func() {
			_, err := b.WaitFrame(context.Background())
			result <- err
		}()

		time.Sleep(20 * time.Millisecond)
		if err := b.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		select {
		case err := <-result:
			if !errors.Is(err, ErrEndOfStream) {
				t.Errorf("expected ErrEndOfStream, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("WaitFrame still blocked after Close")
		}
	})

	t.Run("frame after a slow start", func(t *testing.T) {
		pr, pw := io.Pipe()
		b := NewStreamBackend(pr, io.Discard, DefaultStreamConfig())
		defer b.Close()

		go func() {
			time.Sleep(20 * time.Millisecond)
			io.WriteString(pw, `{"width":1,"height":1,"depth":[900]}`+"\n")
			pw.Close()
		}()

		f, err := b.WaitFrame(context.Background())
		if err != nil {
			t.Fatalf("WaitFrame failed: %v", err)
		}
		if len(f.Depth) != 1 || f.Depth[0] != 900 {
			t.Errorf("unexpected depth %v", f.Depth)
		}
		if _, err := b.WaitFrame(context.Background()); !errors.Is(err, ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got %v", err)
		}
	})
}

func TestStreamBackend_Commands(t *testing.T) {
	var out bytes.Buffer
	b := NewStreamBackend(strings.NewReader(""), &out, DefaultStreamConfig())

	if err := b.StartPoseDetection("Psi", 1); err != nil {
		t.Fatal(err)
	}
	if err := b.StopPoseDetection(1); err != nil {
		t.Fatal(err)
	}
	if err := b.RequestCalibration(1, true); err != nil {
		t.Fatal(err)
	}
	if err := b.StartTracking(1); err != nil {
		t.Fatal(err)
	}

	want := `{"cmd":"start_pose_detection","user":1,"pose":"Psi"}
{"cmd":"stop_pose_detection","user":1}
{"cmd":"request_calibration","user":1,"force":true}
{"cmd":"start_tracking","user":1}
`
	if out.String() != want {
		t.Errorf("unexpected commands:\n%s\nwant:\n%s", out.String(), want)
	}

	b.Close()
	if err := b.StartTracking(1); err == nil {
		t.Error("expected error after close")
	}
}

func TestStreamBackend_CalibrationRequirements(t *testing.T) {
	in := `{"need_pose":false,"pose":"T"}` + "\n"
	b := NewStreamBackend(strings.NewReader(in), &bytes.Buffer{}, DefaultStreamConfig())

	if !b.NeedPoseForCalibration() || b.CalibrationPose() != "Psi" {
		t.Fatal("expected configured defaults before the first frame")
	}
	if _, err := b.WaitFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.NeedPoseForCalibration() {
		t.Error("expected stream to turn off pose detection")
	}
	if b.CalibrationPose() != "T" {
		t.Errorf("expected pose T, got %s", b.CalibrationPose())
	}
}

func TestReplayBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(sampleStream), 0644); err != nil {
		t.Fatal(err)
	}

	b, err := NewReplayBackend(path, DefaultStreamConfig())
	if err != nil {
		t.Fatalf("NewReplayBackend failed: %v", err)
	}
	defer b.Close()

	frames := 0
	for {
		_, err := b.WaitFrame(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("WaitFrame failed: %v", err)
		}
		frames++
	}
	if frames != 3 {
		t.Errorf("expected 3 frames, got %d", frames)
	}

	if _, err := NewReplayBackend(filepath.Join(t.TempDir(), "missing"), DefaultStreamConfig()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestProjection_RealWorldToProjective(t *testing.T) {
	p := Projection{Width: 640, Height: 480, HFOV: DefaultHFOV, VFOV: DefaultVFOV}

	t.Run("optical axis maps to centre", func(t *testing.T) {
		got := p.RealWorldToProjective(skeleton.Point3D{X: 0, Y: 0, Z: 1500})
		if got != (skeleton.Point3D{X: 320, Y: 240, Z: 1500}) {
			t.Errorf("unexpected projection %+v", got)
		}
	})

	t.Run("right and up", func(t *testing.T) {
		got := p.RealWorldToProjective(skeleton.Point3D{X: 100, Y: 100, Z: 1500})
		if got.X <= 320 {
			t.Errorf("expected x right of centre, got %f", got.X)
		}
		if got.Y >= 240 {
			t.Errorf("expected y above centre, got %f", got.Y)
		}
	})

	t.Run("zero depth", func(t *testing.T) {
		got := p.RealWorldToProjective(skeleton.Point3D{X: 100, Y: 100})
		if got != (skeleton.Point3D{}) {
			t.Errorf("expected origin, got %+v", got)
		}
	})
}

func TestReadJoints_Errors(t *testing.T) {
	m := NewMockBackend()

	_, err := ReadJoints(m, 3)
	if !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
	var callErr *calibration.BackendCallError
	if !errors.As(err, &callErr) || callErr.User != 3 {
		t.Errorf("expected BackendCallError for user 3, got %v", err)
	}
}
