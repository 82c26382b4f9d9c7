// Package capture runs the per-camera video capture loop: open a decode
// backend, pull frames, publish them, and report liveness. The
// loop never reconnects on its own; stall detection and reconnect policy
// belong to the session's health monitor.
package capture

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/frames"
	"github.com/imbgar/rtsp-viewer/logging"
)

// drainDepth is how many buffered frames are discarded before each
// decode in low-latency mode.
const drainDepth = 2

// LoopStats is a snapshot of capture counters.
type LoopStats struct {
	FramesReceived uint64
	ReadFailures   uint64
	FPS            float64
}

// Loop pulls frames from one decode backend and publishes them to a
// frame channel. A Loop is single-use: after it exits, the session
// creates a fresh one for the next connect attempt.
type Loop struct {
	camera  config.CameraConfig
	backend Backend
	channel frames.Channel
	logger  logging.Logger

	connectTimeout time.Duration
	readTimeout    time.Duration

	heartbeat  atomic.Int64 // unix nanos of last successful decode
	received   atomic.Uint64
	failures   atomic.Uint64
	fpsBits    atomic.Uint64
	firstFrame chan struct{}
	firstOnce  sync.Once
	stopChan   chan struct{}
	stopOnce   sync.Once
	doneChan   chan struct{}
}

// NewLoop creates a capture loop for one camera. The backend must be
// freshly created and not yet opened.
func NewLoop(camera config.CameraConfig, backend Backend, channel frames.Channel, settings config.StreamSettings, logger logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &Loop{
		camera:         camera,
		backend:        backend,
		channel:        channel,
		logger:         logger,
		connectTimeout: settings.ConnectTimeout(),
		readTimeout:    settings.FrameTimeout(),
		firstFrame:     make(chan struct{}),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Connect opens the decode backend. An attempt that exceeds the connect
// timeout counts as a failure, not a hang.
func (l *Loop) Connect() error {
	result := make(chan error, 1)

	go func() {
		result <- l.backend.Open(l.camera.RTSPURL(), OpenOptions{
			Transport:   "tcp",
			ReadTimeout: l.readTimeout,
			LowLatency:  l.camera.LowLatency,
		})
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("connect to %s failed: %w", l.camera.DisplayURL(), err)
		}
		info := l.backend.Info()
		l.logger.Info("Stream connected",
			"camera", l.camera.Name,
			"url", l.camera.DisplayURL(),
			"width", info.Width,
			"height", info.Height,
			"fps", info.FPS,
			"codec", info.Codec)
		return nil
	case <-time.After(l.connectTimeout):
		// The open call may still finish later; make sure its backend is
		// released when it does.
		go func() {
			if err := <-result; err == nil {
				l.backend.Close()
			}
		}()
		return fmt.Errorf("connect to %s timed out after %v", l.camera.DisplayURL(), l.connectTimeout)
	}
}

// Run starts the capture goroutine. Connect must have succeeded first.
func (l *Loop) Run() {
	go l.run()
}

func (l *Loop) run() {
	defer close(l.doneChan)

	lowLatency := l.camera.LowLatency
	frameCount := 0
	fpsStart := time.Now()

	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		if lowLatency {
			// Discard stale buffered frames so only the newest is
			// decoded. Recency over completeness.
			l.backend.Drain(drainDepth)
		}

		img, ok := l.backend.Read()
		if !ok {
			select {
			case <-l.stopChan:
				// A stop raced the failed read; not a stream error.
				return
			default:
			}
			l.failures.Add(1)
			l.logger.Warn("Frame read failed, capture loop exiting", "camera", l.camera.Name)
			return
		}

		// The channel stamps the sequence number, so numbering survives
		// loop replacement on reconnect.
		now := time.Now()
		l.channel.Publish(frames.Frame{
			Data:      img.Data,
			Width:     img.Width,
			Height:    img.Height,
			Timestamp: now,
		})

		l.heartbeat.Store(now.UnixNano())
		l.received.Add(1)
		l.firstOnce.Do(func() { close(l.firstFrame) })

		frameCount++
		if elapsed := now.Sub(fpsStart); elapsed >= time.Second {
			fps := float64(frameCount) / elapsed.Seconds()
			l.fpsBits.Store(math.Float64bits(fps))
			frameCount = 0
			fpsStart = now
		}
	}
}

// Stop terminates the loop and releases the backend. Safe to call more
// than once and after the loop already exited.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })

	select {
	case <-l.doneChan:
	case <-time.After(l.readTimeout + 2*time.Second):
		l.logger.Warn("Capture loop did not exit in time", "camera", l.camera.Name)
	}

	l.backend.Close()
}

// FirstFrame is closed once the first frame was decoded successfully.
func (l *Loop) FirstFrame() <-chan struct{} {
	return l.firstFrame
}

// Exited reports whether the capture goroutine has returned.
func (l *Loop) Exited() bool {
	select {
	case <-l.doneChan:
		return true
	default:
		return false
	}
}

// LastFrame returns the liveness heartbeat: the time of the most recent
// successful decode, or the zero time before the first frame.
func (l *Loop) LastFrame() time.Time {
	nanos := l.heartbeat.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Stats returns a lock-free snapshot of the capture counters.
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		FramesReceived: l.received.Load(),
		ReadFailures:   l.failures.Load(),
		FPS:            math.Float64frombits(l.fpsBits.Load()),
	}
}

// Info reports the connected stream's properties.
func (l *Loop) Info() StreamInfo {
	return l.backend.Info()
}
