package session

import (
	"testing"
	"time"

	"github.com/imbgar/rtsp-viewer/capture"
	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/process"
)

func testCameras() []config.CameraConfig {
	return []config.CameraConfig{
		{Name: "driveway", Address: "10.0.0.5", Port: 554, Path: "live"},
		{Name: "porch", Address: "10.0.0.6", Port: 554, Path: "live"},
	}
}

func TestRegistryCreatesIdleSessions(t *testing.T) {
	queue := &backendQueue{}
	registry := NewRegistry(testCameras(), testOptions(t, queue, process.NewMockLauncher()))

	sessions := registry.List()
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Camera().Name != "driveway" || sessions[1].Camera().Name != "porch" {
		t.Error("Expected sessions ordered by camera name")
	}
	for _, sess := range sessions {
		if sess.State() != StateIdle {
			t.Errorf("Camera %s: expected idle, got %s", sess.Camera().Name, sess.State())
		}
	}

	if _, ok := registry.Get("driveway"); !ok {
		t.Error("Expected lookup by camera name to succeed")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Error("Expected lookup of unknown camera to fail")
	}
}

func TestRegistryReloadDiffsSessions(t *testing.T) {
	queue := &backendQueue{}
	registry := NewRegistry(testCameras(), testOptions(t, queue, process.NewMockLauncher()))

	before, _ := registry.Get("driveway")
	beforePorch, _ := registry.Get("porch")

	updated := []config.CameraConfig{
		{Name: "driveway", Address: "10.0.0.5", Port: 554, Path: "live"}, // unchanged
		{Name: "porch", Address: "10.0.0.6", Port: 8554, Path: "live"},  // changed port
		{Name: "garage", Address: "10.0.0.7", Port: 554, Path: "live"},  // added
	}
	registry.Reload(updated)

	if len(registry.List()) != 3 {
		t.Fatalf("Expected 3 sessions after reload, got %d", len(registry.List()))
	}

	after, _ := registry.Get("driveway")
	if after != before {
		t.Error("An unchanged camera must keep its session")
	}

	afterPorch, _ := registry.Get("porch")
	if afterPorch == beforePorch {
		t.Error("A changed camera must get a fresh session")
	}
	if afterPorch.Camera().Port != 8554 {
		t.Errorf("Expected new session to carry the new config, got port %d", afterPorch.Camera().Port)
	}

	if _, ok := registry.Get("garage"); !ok {
		t.Error("Expected the added camera to have a session")
	}
}

func TestRegistryReloadRemovesAndStopsSessions(t *testing.T) {
	queue := &backendQueue{}
	backend := capture.NewMockBackend()
	queue.push(backend)
	cancel := feedFrames(backend)
	defer cancel()

	registry := NewRegistry(testCameras(), testOptions(t, queue, process.NewMockLauncher()))

	sess, _ := registry.Get("driveway")
	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	registry.Reload([]config.CameraConfig{
		{Name: "porch", Address: "10.0.0.6", Port: 554, Path: "live"},
	})

	if _, ok := registry.Get("driveway"); ok {
		t.Error("Expected the removed camera's session to be dropped")
	}
	if sess.State() != StateStopped {
		t.Errorf("Expected the removed session stopped, got %s", sess.State())
	}
	if !backend.Closed() {
		t.Error("Expected the removed session's backend to be released")
	}
}

// slowReadBackend delays every read, so stopping a session that streams
// from it takes a noticeable amount of time.
type slowReadBackend struct {
	*capture.MockBackend
	delay time.Duration
}

func (b *slowReadBackend) Read() (capture.Image, bool) {
	time.Sleep(b.delay)
	return b.MockBackend.Read()
}

// slowStopRegistry returns a registry with the driveway session streaming
// from a backend whose teardown is slow.
func slowStopRegistry(t *testing.T) (*Registry, func()) {
	t.Helper()

	slow := &slowReadBackend{MockBackend: capture.NewMockBackend(), delay: 400 * time.Millisecond}
	cancel := feedFrames(slow.MockBackend)

	opts := testOptions(t, &backendQueue{}, process.NewMockLauncher())
	opts.BackendFactory = func() capture.Backend { return slow }
	registry := NewRegistry(testCameras(), opts)

	sess, _ := registry.Get("driveway")
	if err := sess.Start(); err != nil {
		cancel()
		t.Fatalf("Start failed: %v", err)
	}
	return registry, cancel
}

func TestRegistryReadsStayResponsiveDuringStopAll(t *testing.T) {
	registry, cancel := slowStopRegistry(t)
	defer cancel()

	done := make(chan struct{})
	go func() {
		registry.StopAll()
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	// Status and frame requests go through Get and List; they must not
	// wait for stream teardown to finish.
	start := time.Now()
	if len(registry.List()) != 2 {
		t.Error("Expected both sessions listed during teardown")
	}
	if _, ok := registry.Get("porch"); !ok {
		t.Error("Expected lookup to succeed during teardown")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Registry reads blocked during StopAll, took %v", elapsed)
	}

	<-done
	sess, _ := registry.Get("driveway")
	if sess.State() != StateStopped {
		t.Errorf("Expected stopped state after StopAll, got %s", sess.State())
	}
}

func TestRegistryReadsStayResponsiveDuringReload(t *testing.T) {
	registry, cancel := slowStopRegistry(t)
	defer cancel()

	done := make(chan struct{})
	go func() {
		registry.Reload([]config.CameraConfig{
			{Name: "porch", Address: "10.0.0.6", Port: 554, Path: "live"},
		})
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if _, ok := registry.Get("porch"); !ok {
		t.Error("Expected the surviving camera to stay reachable during reload")
	}
	registry.List()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Registry reads blocked during Reload, took %v", elapsed)
	}

	<-done
	if _, ok := registry.Get("driveway"); ok {
		t.Error("Expected the removed camera's session to be dropped")
	}
}

func TestRegistryStopAll(t *testing.T) {
	queue := &backendQueue{}
	backend := capture.NewMockBackend()
	queue.push(backend)
	cancel := feedFrames(backend)
	defer cancel()

	launcher := process.NewMockLauncher()
	registry := NewRegistry(testCameras(), testOptions(t, queue, launcher))

	sess, _ := registry.Get("driveway")
	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sess.SetAudio(true); err != nil {
		t.Fatalf("SetAudio failed: %v", err)
	}

	registry.StopAll()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if launcher.Running() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if launcher.Running() != 0 {
		t.Errorf("Expected zero backend processes after StopAll, got %d", launcher.Running())
	}
	if sess.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", sess.State())
	}
}
