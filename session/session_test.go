package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/imbgar/rtsp-viewer/capture"
	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/logging"
	"github.com/imbgar/rtsp-viewer/process"
	"github.com/imbgar/rtsp-viewer/recording"
)

func testCamera() config.CameraConfig {
	return config.CameraConfig{
		Name:    "driveway",
		Address: "10.0.0.5",
		Port:    554,
		Path:    "live",
	}
}

func testStreamSettings() config.StreamSettings {
	return config.StreamSettings{
		HealthCheckSeconds:    1,
		FrameTimeoutSeconds:   1,
		ConnectTimeoutSeconds: 1,
		ReconnectDelaySeconds: 0, // keep reconnect attempts fast in tests
		MaxReconnectAttempts:  2,
		FrameBufferSize:       4,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// backendQueue hands out prepared mock backends in order. When the queue
// runs dry it hands out backends that refuse to connect, emulating a
// camera that went permanently unreachable.
type backendQueue struct {
	mu      sync.Mutex
	queue   []*capture.MockBackend
	created []*capture.MockBackend
}

func (q *backendQueue) push(backend *capture.MockBackend) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, backend)
}

func (q *backendQueue) factory() capture.Backend {
	q.mu.Lock()
	defer q.mu.Unlock()

	var backend *capture.MockBackend
	if len(q.queue) > 0 {
		backend = q.queue[0]
		q.queue = q.queue[1:]
	} else {
		backend = capture.NewMockBackend()
		backend.SetOpenError(errors.New("connection refused"))
	}
	q.created = append(q.created, backend)
	return backend
}

func (q *backendQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.created)
}

// nopSegmentRepo satisfies the repository interface for session tests
// that do not inspect persistence.
type nopSegmentRepo struct{}

func (nopSegmentRepo) Add(ctx context.Context, segment *recording.Segment) error {
	return nil
}

func (nopSegmentRepo) CloseSegment(ctx context.Context, id string, endTime time.Time, sizeBytes int64, duration time.Duration) error {
	return nil
}

func (nopSegmentRepo) GetByID(ctx context.Context, id string) (*recording.Segment, error) {
	return nil, nil
}

func (nopSegmentRepo) GetByRecording(ctx context.Context, recordingID string) ([]*recording.Segment, error) {
	return nil, nil
}

func (nopSegmentRepo) GetOpen(ctx context.Context, camera string) ([]*recording.Segment, error) {
	return nil, nil
}

func testOptions(t *testing.T, queue *backendQueue, launcher process.Launcher) Options {
	t.Helper()
	return Options{
		OutputDir: t.TempDir(),
		Stream:    testStreamSettings(),
		Recording: config.RecordingSettings{
			SegmentMinutes:    30,
			AudioBitRate:      "128k",
			MaxFailures:       5,
			RetryDelaySeconds: 0,
		},
		Audio:          config.AudioSettings{RestartLimit: 3},
		BackendFactory: queue.factory,
		Launcher:       launcher,
		Segments:       nopSegmentRepo{},
		Probe:          recording.NopProbe{},
		Logger:         logging.NopLogger,
	}
}

// feedFrames keeps a backend supplied with frames until the returned
// cancel function is called, emulating a live stream.
func feedFrames(backend *capture.MockBackend) func() {
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				backend.QueueFrames(2)
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	return func() { close(stop) }
}

func TestFirstConnectFailureGoesStraightToError(t *testing.T) {
	queue := &backendQueue{}
	backend := capture.NewMockBackend()
	backend.SetOpenError(errors.New("connection refused"))
	queue.push(backend)

	sess := NewSession(testCamera(), testOptions(t, queue, process.NewMockLauncher()))

	err := sess.Start()
	if err == nil {
		t.Fatal("Expected Start to fail when the camera is unreachable")
	}
	if !IsConnectError(err) {
		t.Errorf("Expected ConnectError, got %T", err)
	}
	if sess.State() != StateError {
		t.Errorf("Expected error state, got %s", sess.State())
	}

	// Fail fast: the reconnect budget must not be spent on a camera
	// that never connected.
	time.Sleep(50 * time.Millisecond)
	if queue.count() != 1 {
		t.Errorf("Expected exactly 1 connect attempt, got %d", queue.count())
	}
}

func TestStartStreamsOnFirstFrame(t *testing.T) {
	queue := &backendQueue{}
	backend := capture.NewMockBackend()
	queue.push(backend)
	cancel := feedFrames(backend)
	defer cancel()

	sess := NewSession(testCamera(), testOptions(t, queue, process.NewMockLauncher()))
	defer sess.Stop()

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sess.State() != StateStreaming {
		t.Errorf("Expected streaming state, got %s", sess.State())
	}

	waitFor(t, time.Second, func() bool {
		_, ok := sess.PollFrame()
		return ok
	}, "Expected a frame available for display")

	status := sess.Status()
	if status.FramesReceived == 0 {
		t.Error("Expected received frame counter to advance")
	}
	if status.Width != 4 || status.Height != 4 {
		t.Errorf("Expected stream info in status, got %dx%d", status.Width, status.Height)
	}
}

func TestLatestFrameServesMultipleReaders(t *testing.T) {
	queue := &backendQueue{}
	backend := capture.NewMockBackend()
	backend.QueueFrames(1)
	queue.push(backend)

	sess := NewSession(testCamera(), testOptions(t, queue, process.NewMockLauncher()))
	defer sess.Stop()

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The single produced frame must serve both a snapshot request and a
	// live viewer; the first reader must not starve the second.
	first, ok := sess.LatestFrame()
	if !ok {
		t.Fatal("Expected a frame after the first decode")
	}
	second, ok := sess.LatestFrame()
	if !ok {
		t.Fatal("Expected the frame to stay available for a second reader")
	}
	if second.Seq != first.Seq {
		t.Errorf("Expected both readers to see frame %d, got %d", first.Seq, second.Seq)
	}

	sess.Stop()
	if _, ok := sess.LatestFrame(); ok {
		t.Error("Expected no cached frame after Stop")
	}
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	queue := &backendQueue{}
	backend := capture.NewMockBackend()
	queue.push(backend)
	cancel := feedFrames(backend)
	defer cancel()

	sess := NewSession(testCamera(), testOptions(t, queue, process.NewMockLauncher()))
	defer sess.Stop()

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sess.Start(); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if queue.count() != 1 {
		t.Errorf("Expected a single backend, got %d", queue.count())
	}
}

func TestStopTearsDownAllBackends(t *testing.T) {
	queue := &backendQueue{}
	backend := capture.NewMockBackend()
	queue.push(backend)
	cancel := feedFrames(backend)
	defer cancel()

	launcher := process.NewMockLauncher()
	sess := NewSession(testCamera(), testOptions(t, queue, launcher))

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sess.SetAudio(true); err != nil {
		t.Fatalf("SetAudio failed: %v", err)
	}
	if err := sess.SetRecording(true); err != nil {
		t.Fatalf("SetRecording failed: %v", err)
	}

	sess.Stop()

	if sess.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", sess.State())
	}
	if launcher.Running() != 0 {
		t.Errorf("Expected zero backend processes after Stop, got %d", launcher.Running())
	}
	if !backend.Closed() {
		t.Error("Expected the decode backend to be released")
	}

	status := sess.Status()
	if status.Recording {
		t.Error("Recording must be finalized by Stop")
	}
	if status.AudioRunning {
		t.Error("Audio must be stopped by Stop")
	}
}

func TestRecordingRequiresStreaming(t *testing.T) {
	queue := &backendQueue{}
	launcher := process.NewMockLauncher()
	sess := NewSession(testCamera(), testOptions(t, queue, launcher))

	err := sess.SetRecording(true)
	if err == nil {
		t.Fatal("Expected recording start to be rejected while idle")
	}
	if !IsPreconditionError(err) {
		t.Errorf("Expected PreconditionError, got %T", err)
	}
	if len(launcher.Launches()) != 0 {
		t.Error("A rejected recording start must not launch a backend")
	}
	if sess.State() != StateIdle {
		t.Errorf("A rejected operation must not change state, got %s", sess.State())
	}

	// Same rejection from the error state.
	if err := sess.Start(); err == nil {
		t.Fatal("Expected Start to fail with no reachable backend")
	}
	err = sess.SetRecording(true)
	if !IsPreconditionError(err) {
		t.Errorf("Expected PreconditionError in error state, got %T", err)
	}
}

func TestAudioRequiresStreaming(t *testing.T) {
	queue := &backendQueue{}
	launcher := process.NewMockLauncher()
	sess := NewSession(testCamera(), testOptions(t, queue, launcher))

	err := sess.SetAudio(true)
	if !IsPreconditionError(err) {
		t.Errorf("Expected PreconditionError, got %v", err)
	}
	if len(launcher.Launches()) != 0 {
		t.Error("A rejected audio start must not launch a backend")
	}
}

func TestStallReconnectsAndRecovers(t *testing.T) {
	queue := &backendQueue{}
	first := capture.NewMockBackend()
	first.QueueFrames(3) // delivers briefly, then the stream dies
	queue.push(first)

	second := capture.NewMockBackend()
	queue.push(second)
	cancel := feedFrames(second)
	defer cancel()

	sess := NewSession(testCamera(), testOptions(t, queue, process.NewMockLauncher()))
	defer sess.Stop()

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return sess.State() == StateStreaming && queue.count() == 2
	}, "Expected the monitor to reconnect onto a fresh backend")

	if !first.Closed() {
		t.Error("Expected the stalled backend to be released")
	}
	if sess.Err() != nil {
		t.Errorf("Expected last error cleared after recovery, got %v", sess.Err())
	}
}

func TestReconnectBudgetExhaustionEntersError(t *testing.T) {
	queue := &backendQueue{}
	first := capture.NewMockBackend()
	first.QueueFrames(3)
	queue.push(first)
	// No replacement backends queued: every reconnect attempt is refused.

	settings := testStreamSettings()
	sess := NewSession(testCamera(), testOptions(t, queue, process.NewMockLauncher()))
	defer sess.Stop()

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return sess.State() == StateError
	}, "Expected the session to give up after the reconnect budget")

	if !IsReconnectExhaustedError(sess.Err()) {
		t.Errorf("Expected ReconnectExhaustedError, got %v", sess.Err())
	}

	// One initial backend plus exactly the budgeted attempts, then no
	// further tries.
	attempts := queue.count() - 1
	if attempts != settings.MaxReconnectAttempts {
		t.Errorf("Expected %d reconnect attempts, got %d", settings.MaxReconnectAttempts, attempts)
	}
	time.Sleep(100 * time.Millisecond)
	if queue.count()-1 != settings.MaxReconnectAttempts {
		t.Error("The error state must not auto-retry")
	}
}

func TestStopWinsRaceWithReconnectBackoff(t *testing.T) {
	queue := &backendQueue{}
	first := capture.NewMockBackend()
	first.QueueFrames(3)
	queue.push(first)

	opts := testOptions(t, queue, process.NewMockLauncher())
	opts.Stream.ReconnectDelaySeconds = 2
	opts.Stream.MaxReconnectAttempts = 5
	sess := NewSession(testCamera(), opts)

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return sess.State() == StateReconnecting
	}, "Expected the session to enter reconnecting after the stall")

	stopped := time.Now()
	sess.Stop()
	if elapsed := time.Since(stopped); elapsed > time.Second {
		t.Errorf("Stop must cancel the backoff sleep, took %v", elapsed)
	}
	if sess.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", sess.State())
	}
}

func TestRestartLeavesErrorState(t *testing.T) {
	queue := &backendQueue{}
	failing := capture.NewMockBackend()
	failing.SetOpenError(errors.New("connection refused"))
	queue.push(failing)

	sess := NewSession(testCamera(), testOptions(t, queue, process.NewMockLauncher()))

	if err := sess.Start(); err == nil {
		t.Fatal("Expected the first Start to fail")
	}
	if sess.State() != StateError {
		t.Fatalf("Expected error state, got %s", sess.State())
	}

	good := capture.NewMockBackend()
	queue.push(good)
	cancel := feedFrames(good)
	defer cancel()
	defer sess.Stop()

	if err := sess.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if sess.State() != StateStreaming {
		t.Errorf("Expected streaming after restart, got %s", sess.State())
	}
}
