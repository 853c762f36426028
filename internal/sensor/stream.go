package sensor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/skeleton"
)

// StreamConfig holds configuration options for a StreamBackend.
type StreamConfig struct {
	// Width and Height are the depth resolution until a frame reports its own.
	Width  int
	Height int

	// HFOV and VFOV are the camera field of view in radians.
	HFOV float64
	VFOV float64

	// NeedPose and Pose are the calibration requirements until the stream reports them.
	NeedPose bool
	Pose     string

	// FrameInterval paces WaitFrame when reading from a file. Zero reads as fast as possible.
	FrameInterval time.Duration
}

// DefaultStreamConfig returns a StreamConfig matching a 640x480 PrimeSense sensor.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Width:    640,
		Height:   480,
		HFOV:     DefaultHFOV,
		VFOV:     DefaultVFOV,
		NeedPose: true,
		Pose:     "Psi",
	}
}

// StreamBackend implements Backend over a line-delimited JSON protocol.
// Each inbound line is one frame message; capability requests are written
// to the outbound side as one command per line.
type StreamBackend struct {
	config     StreamConfig
	in         *bufio.Reader
	out        io.Writer
	closer     func() error
	lines      chan []byte
	readErr    error
	readOnce   sync.Once
	done       chan struct{}
	mu         sync.Mutex
	projection Projection
	joints     map[int]skeleton.Joints
	lastFrame  time.Time
	closed     bool
}

// NewStreamBackend creates a StreamBackend reading frames from r and writing
// commands to w. If r is an io.Closer, Close closes it.
func NewStreamBackend(r io.Reader, w io.Writer, config StreamConfig) *StreamBackend {
	var closer func() error
	if c, ok := r.(io.Closer); ok {
		closer = c.Close
	}
	return &StreamBackend{
		config: config,
		in:     bufio.NewReaderSize(r, 1<<20),
		out:    w,
		closer: closer,
		lines:  make(chan []byte),
		done:   make(chan struct{}),
		projection: Projection{
			Width:  config.Width,
			Height: config.Height,
			HFOV:   config.HFOV,
			VFOV:   config.VFOV,
		},
		joints: make(map[int]skeleton.Joints),
	}
}

// frameMessage is one inbound line.
type frameMessage struct {
	Width     int                                     `json:"width"`
	Height    int                                     `json:"height"`
	Depth     []uint16                                `json:"depth"`
	Users     []uint16                                `json:"users"`
	Events    []eventMessage                          `json:"events"`
	Joints    map[int]map[skeleton.JointID]jointValue `json:"joints"`
	Timestamp int64                                   `json:"timestamp"`
	NeedPose  *bool                                   `json:"need_pose,omitempty"`
	Pose      string                                  `json:"pose,omitempty"`
}

type eventMessage struct {
	Type   string `json:"type"`
	User   int    `json:"user"`
	Pose   string `json:"pose,omitempty"`
	Status string `json:"status,omitempty"`
}

type jointValue struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
}

// command is one outbound line.
type command struct {
	Cmd   string `json:"cmd"`
	User  int    `json:"user"`
	Pose  string `json:"pose,omitempty"`
	Force bool   `json:"force,omitempty"`
}

func (e eventMessage) toEvent() (calibration.Event, error) {
	kind, err := calibration.ParseEventKind(e.Type)
	if err != nil {
		return calibration.Event{}, err
	}
	ev := calibration.Event{Kind: kind, User: e.User, Pose: e.Pose}
	if kind == calibration.EventCalibrationComplete {
		ev.Status, err = calibration.ParseStatus(e.Status)
		if err != nil {
			return calibration.Event{}, err
		}
	}
	return ev, nil
}

// WaitFrame reads the next frame message. It returns when ctx is done even
// if the stream stays silent.
func (b *StreamBackend) WaitFrame(ctx context.Context) (*Frame, error) {
	if err := b.pace(ctx); err != nil {
		return nil, err
	}

	b.readOnce.Do(func() { go b.readLines() })

	var line []byte
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrEndOfStream
	case l, ok := <-b.lines:
		if !ok {
			if b.readErr == nil || errors.Is(b.readErr, io.EOF) {
				return nil, ErrEndOfStream
			}
			return nil, fmt.Errorf("read frame: %w", b.readErr)
		}
		line = l
	}

	var msg frameMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	return b.apply(&msg)
}

// readLines hands inbound lines to WaitFrame until the stream fails or the
// backend is closed. readErr is set before lines is closed.
func (b *StreamBackend) readLines() {
	defer close(b.lines)
	for {
		line, err := b.in.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			select {
			case b.lines <- line:
			case <-b.done:
				return
			}
		}
		if err != nil {
			b.readErr = err
			return
		}
	}
}

func (b *StreamBackend) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.config.FrameInterval <= 0 {
		return nil
	}

	if !b.lastFrame.IsZero() {
		wait := time.Until(b.lastFrame.Add(b.config.FrameInterval))
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	b.lastFrame = time.Now()
	return nil
}

func (b *StreamBackend) apply(msg *frameMessage) (*Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Width > 0 && msg.Height > 0 {
		b.projection.Width = msg.Width
		b.projection.Height = msg.Height
	}
	if msg.NeedPose != nil {
		b.config.NeedPose = *msg.NeedPose
	}
	if msg.Pose != "" {
		b.config.Pose = msg.Pose
	}

	frame := &Frame{
		Width:     b.projection.Width,
		Height:    b.projection.Height,
		Depth:     msg.Depth,
		Labels:    msg.Users,
		Timestamp: time.UnixMilli(msg.Timestamp),
	}
	if msg.Timestamp == 0 {
		frame.Timestamp = time.Now()
	}
	if n := frame.Width * frame.Height; len(frame.Depth) != 0 && len(frame.Depth) != n {
		return nil, fmt.Errorf("frame has %d depth values, expected %d", len(frame.Depth), n)
	}
	if len(frame.Labels) != 0 && len(frame.Labels) != len(frame.Depth) {
		return nil, fmt.Errorf("frame has %d user labels for %d depth values", len(frame.Labels), len(frame.Depth))
	}

	for _, em := range msg.Events {
		ev, err := em.toEvent()
		if err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		frame.Events = append(frame.Events, ev)
	}

	b.joints = make(map[int]skeleton.Joints, len(msg.Joints))
	for user, joints := range msg.Joints {
		js := make(skeleton.Joints, len(joints))
		for id, v := range joints {
			js[id] = skeleton.JointSample{
				Joint:      id,
				Position:   skeleton.Point3D{X: v.X, Y: v.Y, Z: v.Z},
				Confidence: v.Confidence,
			}
		}
		b.joints[user] = js
	}

	return frame, nil
}

func (b *StreamBackend) send(c command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("backend closed")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if _, err := b.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write command %s: %w", c.Cmd, err)
	}
	return nil
}

func (b *StreamBackend) NeedPoseForCalibration() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.NeedPose
}

func (b *StreamBackend) CalibrationPose() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.Pose
}

func (b *StreamBackend) StartPoseDetection(pose string, user int) error {
	return b.send(command{Cmd: "start_pose_detection", User: user, Pose: pose})
}

func (b *StreamBackend) StopPoseDetection(user int) error {
	return b.send(command{Cmd: "stop_pose_detection", User: user})
}

func (b *StreamBackend) RequestCalibration(user int, force bool) error {
	return b.send(command{Cmd: "request_calibration", User: user, Force: force})
}

func (b *StreamBackend) AbortCalibration(user int) error {
	return b.send(command{Cmd: "abort_calibration", User: user})
}

func (b *StreamBackend) StartTracking(user int) error {
	return b.send(command{Cmd: "start_tracking", User: user})
}

func (b *StreamBackend) StopTracking(user int) error {
	return b.send(command{Cmd: "stop_tracking", User: user})
}

// JointPosition returns the joint as reported in the most recent frame.
func (b *StreamBackend) JointPosition(user int, joint skeleton.JointID) (skeleton.JointSample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	joints, ok := b.joints[user]
	if !ok {
		return skeleton.JointSample{}, fmt.Errorf("user %d: %w", user, ErrUnknownUser)
	}
	s, ok := joints[joint]
	if !ok {
		return skeleton.Unavailable(joint), nil
	}
	return s, nil
}

func (b *StreamBackend) RealWorldToProjective(p skeleton.Point3D) (skeleton.Point3D, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.projection.RealWorldToProjective(p), nil
}

// Close releases the underlying stream.
func (b *StreamBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	closer := b.closer
	close(b.done)
	b.mu.Unlock()

	if closer != nil {
		return closer()
	}
	return nil
}
