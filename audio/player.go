// Package audio supervises the external audio playback backend (ffplay)
// for one camera. Audio runs independently of the video path: its backend
// crashing or exhausting restarts never affects video capture.
package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/logging"
	"github.com/imbgar/rtsp-viewer/process"
)

// stopTimeout bounds the graceful shutdown of the playback process.
const stopTimeout = 2 * time.Second

// Controller supervises one ffplay process bound to the camera's stream
// URL, restarting it a bounded number of times on unexpected exit.
type Controller struct {
	camera   config.CameraConfig
	launcher process.Launcher
	logger   logging.Logger
	settings config.AudioSettings

	mu      sync.Mutex
	running bool
	handle  process.Handle

	stopChan chan struct{}
	doneChan chan struct{}

	unavailable atomic.Bool
	restarts    atomic.Uint64
}

func NewController(camera config.CameraConfig, launcher process.Launcher, settings config.AudioSettings, logger logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &Controller{
		camera:   camera,
		launcher: launcher,
		logger:   logger,
		settings: settings,
	}
}

// playbackSpec builds the ffplay invocation. The async resample filter is
// passed on every start so audio timing never drifts across restarts.
func (c *Controller) playbackSpec() process.Spec {
	return process.Spec{
		Name: "ffplay",
		Args: []string{
			"-nodisp",
			"-vn",
			"-autoexit",
			"-loglevel", "quiet",
			"-rtsp_transport", "tcp",
			"-sync", "audio",
			"-framedrop",
			"-fflags", "nobuffer+fastseek",
			"-flags", "low_delay",
			"-af", "aresample=async=1000",
			"-i", c.camera.RTSPURL(),
		},
	}
}

// Start launches the playback backend and its supervision goroutine.
// Calling Start while already running is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}

	handle, err := c.launcher.Launch(c.playbackSpec())
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.running = true
	c.handle = handle
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})
	c.unavailable.Store(false)
	c.restarts.Store(0)
	c.mu.Unlock()

	c.logger.Info("Audio playback started", "camera", c.camera.Name)

	go c.supervise(handle)
	return nil
}

// supervise waits for process exit and restarts the backend up to the
// configured bound. Stop always wins a race with a pending restart delay.
func (c *Controller) supervise(handle process.Handle) {
	defer close(c.doneChan)

	for {
		select {
		case <-c.stopChan:
			handle.Stop(stopTimeout)
			return
		case err := <-handle.Done():
			if err != nil {
				c.logger.Warn("Audio backend exited unexpectedly",
					"camera", c.camera.Name, "error", err)
			} else {
				c.logger.Warn("Audio backend exited", "camera", c.camera.Name)
			}
		}

		if c.restarts.Add(1) > uint64(c.settings.RestartLimit) {
			c.logger.Error("Audio restart limit reached, audio unavailable",
				"camera", c.camera.Name, "limit", c.settings.RestartLimit)
			c.unavailable.Store(true)
			c.setStopped()
			return
		}

		// Cancellable delay before the restart attempt.
		select {
		case <-c.stopChan:
			return
		case <-time.After(c.settings.RestartDelay()):
		}

		next, err := c.launcher.Launch(c.playbackSpec())
		if err != nil {
			c.logger.Error("Audio backend restart failed",
				"camera", c.camera.Name, "error", err)
			c.unavailable.Store(true)
			c.setStopped()
			return
		}

		c.mu.Lock()
		c.handle = next
		c.mu.Unlock()
		handle = next

		c.logger.Info("Audio backend restarted",
			"camera", c.camera.Name, "attempt", c.restarts.Load())
	}
}

func (c *Controller) setStopped() {
	c.mu.Lock()
	c.running = false
	c.handle = nil
	c.mu.Unlock()
}

// Stop terminates the playback backend deterministically. Safe to call
// when not running.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stopChan := c.stopChan
	doneChan := c.doneChan
	c.handle = nil
	c.mu.Unlock()

	close(stopChan)
	<-doneChan

	c.logger.Info("Audio playback stopped", "camera", c.camera.Name)
}

// Running reports whether a playback backend is currently supervised.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Unavailable reports whether audio gave up after exhausting restarts.
func (c *Controller) Unavailable() bool {
	return c.unavailable.Load()
}
