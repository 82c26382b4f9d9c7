// Package session composes the per-camera units (capture loop, audio
// playback, recording, health monitoring) into one stream session with a
// small operator API: start, stop, restart, toggle recording, toggle
// audio. Sessions are fully independent of each other.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/imbgar/rtsp-viewer/audio"
	"github.com/imbgar/rtsp-viewer/capture"
	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/frames"
	"github.com/imbgar/rtsp-viewer/logging"
	"github.com/imbgar/rtsp-viewer/process"
	"github.com/imbgar/rtsp-viewer/recording"
)

// State is the session lifecycle state. Reads are lock-free so the UI
// thread never waits on a supervision goroutine.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Options carries the collaborators and tuning shared by all sessions.
type Options struct {
	OutputDir      string
	Stream         config.StreamSettings
	Recording      config.RecordingSettings
	Audio          config.AudioSettings
	BackendFactory capture.BackendFactory
	Launcher       process.Launcher
	Segments       recording.SegmentRepository
	Probe          recording.SegmentProbe
	Logger         logging.Logger
}

// Status is a point-in-time snapshot of a session for the operator UI.
type Status struct {
	ID               string             `json:"id"`
	Camera           string             `json:"camera"`
	State            string             `json:"state"`
	LastError        string             `json:"last_error,omitempty"`
	FramesReceived   uint64             `json:"frames_received"`
	ReadFailures     uint64             `json:"read_failures"`
	FPS              float64            `json:"fps"`
	DroppedFrames    uint64             `json:"dropped_frames"`
	Reconnects       uint64             `json:"reconnects"`
	LastFrame        time.Time          `json:"last_frame,omitempty"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	Recording        bool               `json:"recording"`
	RecordingID      string             `json:"recording_id,omitempty"`
	ActiveSegment    *recording.Segment `json:"active_segment,omitempty"`
	AudioRunning     bool               `json:"audio_running"`
	AudioUnavailable bool               `json:"audio_unavailable"`
}

type errBox struct {
	err error
}

// Session owns the lifecycle of one camera stream. At most one capture
// loop, one audio backend and one recording backend are active at a
// time; starting a replacement implies the previous one is fully
// stopped first.
type Session struct {
	id     string
	camera config.CameraConfig
	stream config.StreamSettings
	logger logging.Logger

	backendFactory capture.BackendFactory
	recordAudio    bool

	channel  frames.Channel
	audio    *audio.Controller
	recorder *recording.Controller

	// opMu serializes operator calls so state transitions apply one at
	// a time. Supervision goroutines never take it.
	opMu    sync.Mutex
	monitor *healthMonitor

	loopMu sync.Mutex
	loop   *capture.Loop

	state      atomic.Int32
	lastErr    atomic.Pointer[errBox]
	lastFrame  atomic.Pointer[frames.Frame]
	reconnects atomic.Uint64
}

// NewSession creates an idle session for one camera. No resources are
// held until Start.
func NewSession(camera config.CameraConfig, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger
	}

	channel := frames.NewChannel(camera.LowLatency, opts.Stream.FrameBufferSize)

	return &Session{
		id:             uuid.NewString(),
		camera:         camera,
		stream:         opts.Stream,
		logger:         logger,
		backendFactory: opts.BackendFactory,
		recordAudio:    opts.Recording.RecordAudio,
		channel:        channel,
		audio:          audio.NewController(camera, opts.Launcher, opts.Audio, logger),
		recorder: recording.NewController(camera, opts.OutputDir, opts.Launcher,
			opts.Segments, opts.Probe, opts.Recording, logger),
	}
}

// ID returns the session handle identifier.
func (s *Session) ID() string {
	return s.id
}

// Camera returns the session's immutable camera configuration.
func (s *Session) Camera() config.CameraConfig {
	return s.camera
}

// State returns the current lifecycle state without locking.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// Err returns the error behind the current Error state, or the last
// stall while reconnecting. Nil when healthy.
func (s *Session) Err() error {
	if box := s.lastErr.Load(); box != nil {
		return box.err
	}
	return nil
}

func (s *Session) setErr(err error) {
	s.lastErr.Store(&errBox{err: err})
}

func (s *Session) clearErr() {
	s.lastErr.Store(nil)
}

// Start connects the camera and begins streaming. It blocks until the
// first frame arrives or the connect budget is spent; a session that
// never produced a frame goes straight to Error with no reconnect
// attempts.
func (s *Session) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked()
}

func (s *Session) startLocked() error {
	switch s.State() {
	case StateConnecting, StateStreaming, StateReconnecting:
		return nil
	}

	s.setState(StateConnecting)
	s.clearErr()
	s.logger.Info("Session connecting", "camera", s.camera.Name, "url", s.camera.DisplayURL())

	loop := s.newLoop()
	if err := loop.Connect(); err != nil {
		connectErr := NewConnectError(s.camera.Name, err)
		s.setErr(connectErr)
		s.setState(StateError)
		return connectErr
	}

	loop.Run()

	select {
	case <-loop.FirstFrame():
	case <-time.After(s.stream.ConnectTimeout()):
		loop.Stop()
		connectErr := NewConnectError(s.camera.Name,
			fmt.Errorf("no frame received within %v", s.stream.ConnectTimeout()))
		s.setErr(connectErr)
		s.setState(StateError)
		return connectErr
	}

	s.setLoop(loop)
	s.setState(StateStreaming)

	s.monitor = newHealthMonitor(s, s.stream, s.logger)
	s.monitor.Run()

	s.logger.Info("Session streaming", "camera", s.camera.Name)
	return nil
}

// Stop tears the session down: recording is finalized first so no
// segment stays open, then audio, then capture. Safe to call in any
// state.
func (s *Session) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	switch s.State() {
	case StateIdle, StateStopped:
		return
	}

	s.recorder.Stop()
	s.audio.Stop()

	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
	if loop := s.takeLoop(); loop != nil {
		loop.Stop()
	}
	s.lastFrame.Store(nil)

	s.setState(StateStopped)
	s.logger.Info("Session stopped", "camera", s.camera.Name)
}

// Restart stops the session if needed and connects again. This is the
// only way out of the Error state.
func (s *Session) Restart() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopLocked()
	return s.startLocked()
}

// SetRecording starts or stops recording. Starting requires the session
// to be streaming; a disconnected camera has nothing to record.
func (s *Session) SetRecording(enabled bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !enabled {
		s.recorder.Stop()
		return nil
	}

	if state := s.State(); state != StateStreaming {
		return NewPreconditionError(s.camera.Name, "start recording", state)
	}
	return s.recorder.Start(context.Background(), s.recordAudio)
}

// SetAudio starts or stops audio playback. Starting requires the
// session to be streaming.
func (s *Session) SetAudio(enabled bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !enabled {
		s.audio.Stop()
		return nil
	}

	if state := s.State(); state != StateStreaming {
		return NewPreconditionError(s.camera.Name, "start audio", state)
	}
	return s.audio.Start()
}

// Segments lists the segments of the most recent recording session,
// open and finalized.
func (s *Session) Segments(ctx context.Context) ([]*recording.Segment, error) {
	return s.recorder.Segments(ctx)
}

// PollFrame returns the newest available frame without blocking. The
// second return is false when no frame is pending. Polling consumes the
// frame; display readers that share the stream use LatestFrame instead.
func (s *Session) PollFrame() (frames.Frame, bool) {
	return s.channel.Poll()
}

// LatestFrame returns the newest frame seen so far. The channel allows
// one consumer, so polled frames go through a shared cache; snapshots
// and any number of live viewers can read without stealing frames from
// one another. The second return is false before the first frame and
// after Stop.
func (s *Session) LatestFrame() (frames.Frame, bool) {
	if frame, ok := s.channel.Poll(); ok {
		s.cacheFrame(frame)
	}
	if cached := s.lastFrame.Load(); cached != nil {
		return *cached, true
	}
	return frames.Frame{}, false
}

// cacheFrame advances the shared frame cache, never backwards. Two
// concurrent polls can finish out of order; the sequence decides.
func (s *Session) cacheFrame(frame frames.Frame) {
	for {
		cur := s.lastFrame.Load()
		if cur != nil && cur.Seq >= frame.Seq {
			return
		}
		if s.lastFrame.CompareAndSwap(cur, &frame) {
			return
		}
	}
}

// Status snapshots the session for the operator. It reads atomics and
// short-held locks only; it never waits on a supervision goroutine.
func (s *Session) Status() Status {
	status := Status{
		ID:               s.id,
		Camera:           s.camera.Name,
		State:            s.State().String(),
		DroppedFrames:    s.channel.Dropped(),
		Reconnects:       s.reconnects.Load(),
		Recording:        s.recorder.Recording(),
		RecordingID:      s.recorder.RecordingID(),
		ActiveSegment:    s.recorder.ActiveSegment(),
		AudioRunning:     s.audio.Running(),
		AudioUnavailable: s.audio.Unavailable(),
	}

	if err := s.Err(); err != nil {
		status.LastError = err.Error()
	}

	if loop := s.currentLoop(); loop != nil {
		stats := loop.Stats()
		status.FramesReceived = stats.FramesReceived
		status.ReadFailures = stats.ReadFailures
		status.FPS = stats.FPS
		status.LastFrame = loop.LastFrame()
		info := loop.Info()
		status.Width = info.Width
		status.Height = info.Height
	}

	return status
}

// newLoop builds a capture loop around a fresh decode backend. Backends
// are never reused across connect attempts.
func (s *Session) newLoop() *capture.Loop {
	return capture.NewLoop(s.camera, s.backendFactory(), s.channel, s.stream, s.logger)
}

func (s *Session) currentLoop() *capture.Loop {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.loop
}

func (s *Session) setLoop(loop *capture.Loop) {
	s.loopMu.Lock()
	s.loop = loop
	s.loopMu.Unlock()
}

func (s *Session) takeLoop() *capture.Loop {
	s.loopMu.Lock()
	loop := s.loop
	s.loop = nil
	s.loopMu.Unlock()
	return loop
}
