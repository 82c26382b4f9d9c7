// Package recording supervises the external recording backend (ffmpeg)
// for one camera. Recording copies the camera's video stream into
// independently playable MP4 segments, rotating to a fresh file on a
// fixed interval. The backend pulls from the camera directly, so
// recording quality never depends on the viewer's frame path.
package recording

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/logging"
	"github.com/imbgar/rtsp-viewer/process"
)

// finalizeTimeout bounds the graceful "q" shutdown of ffmpeg before
// escalating. Fragmented MP4 stays playable either way.
const finalizeTimeout = 5 * time.Second

// minSegmentRuntime separates a backend that streamed for a while from
// one that died on startup. Exits below this count as failures even
// with exit code zero.
var minSegmentRuntime = 5 * time.Second

// Controller supervises one recording session for a camera: a sequence
// of ffmpeg processes, each writing one segment file.
type Controller struct {
	camera    config.CameraConfig
	outputDir string
	launcher  process.Launcher
	repo      SegmentRepository
	probe     SegmentProbe
	logger    logging.Logger
	settings  config.RecordingSettings

	// segmentInterval is the rotation period, taken from settings.
	segmentInterval time.Duration

	mu          sync.Mutex
	recording   bool
	recordAudio bool
	recordingID string
	sessionDir  string
	current     *Segment
	handle      process.Handle
	startedAt   time.Time
	lastErr     error

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewController(camera config.CameraConfig, outputDir string, launcher process.Launcher,
	repo SegmentRepository, probe SegmentProbe, settings config.RecordingSettings, logger logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NopLogger
	}
	if probe == nil {
		probe = NopProbe{}
	}

	return &Controller{
		camera:          camera,
		outputDir:       outputDir,
		launcher:        launcher,
		repo:            repo,
		probe:           probe,
		logger:          logger,
		settings:        settings,
		segmentInterval: settings.SegmentDuration(),
	}
}

// ffmpegSpec builds the recording invocation for one segment file. Video
// is stream-copied; re-encoding would burn CPU and degrade evidence
// quality. Fragmented MP4 keeps the file playable even if the process
// dies before finalizing.
func (c *Controller) ffmpegSpec(path string, recordAudio bool) process.Spec {
	args := []string{
		"-y",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-fflags", "+genpts+discardcorrupt",
		"-buffer_size", "8192000",
		"-i", c.camera.RTSPURL(),
		"-c:v", "copy",
	}
	if recordAudio {
		args = append(args, "-c:a", "aac", "-b:a", c.settings.AudioBitRate)
	} else {
		args = append(args, "-an")
	}
	args = append(args,
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		path,
	)

	return process.Spec{
		Name:          "ffmpeg",
		Args:          args,
		GracefulStdin: []byte("q"),
	}
}

// Start begins a new recording session. The first segment is opened
// synchronously so an immediate backend failure surfaces to the caller.
// Calling Start while recording is a no-op.
func (c *Controller) Start(ctx context.Context, recordAudio bool) error {
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return nil
	}

	start := time.Now()
	sessionDir := filepath.Join(c.outputDir, sessionDirName(c.camera.Name, start))
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		c.mu.Unlock()
		return NewRecorderError(c.camera.Name, "failed to create session directory", err)
	}

	recordingID := uuid.NewString()
	segment, handle, err := c.openSegment(ctx, recordingID, sessionDir, 1, recordAudio)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.recording = true
	c.recordAudio = recordAudio
	c.recordingID = recordingID
	c.sessionDir = sessionDir
	c.current = segment
	c.handle = handle
	c.startedAt = start
	c.lastErr = nil
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info("Recording started",
		"camera", c.camera.Name, "recording_id", recordingID,
		"dir", sessionDir, "audio", recordAudio)

	go c.run(segment, handle, recordAudio)
	return nil
}

// openSegment launches a fresh ffmpeg process for the next segment file
// and persists the open segment record.
func (c *Controller) openSegment(ctx context.Context, recordingID, sessionDir string, sequence int, recordAudio bool) (*Segment, process.Handle, error) {
	start := time.Now()
	path := filepath.Join(sessionDir, segmentFileName(c.camera.Name, start))

	handle, err := c.launcher.Launch(c.ffmpegSpec(path, recordAudio))
	if err != nil {
		return nil, nil, NewRecorderError(c.camera.Name, "failed to launch recording backend", err)
	}

	segment := &Segment{
		ID:          uuid.NewString(),
		Camera:      c.camera.Name,
		RecordingID: recordingID,
		Path:        path,
		Sequence:    sequence,
		StartTime:   start,
		Status:      SegmentOpen,
	}

	if err := c.repo.Add(ctx, segment); err != nil {
		// The backend is already writing; keep recording and log the
		// bookkeeping failure rather than dropping footage.
		c.logger.Error("Failed to persist segment record",
			"camera", c.camera.Name, "segment", segment.ID, "error", err)
	}

	return segment, handle, nil
}

// run rotates segments until stopped or the failure budget is spent.
func (c *Controller) run(segment *Segment, handle process.Handle, recordAudio bool) {
	defer close(c.doneChan)

	ctx := context.Background()
	failures := 0
	sequence := segment.Sequence

	rotation := time.NewTimer(c.segmentInterval)
	defer rotation.Stop()

	for {
		select {
		case <-c.stopChan:
			c.finalize(ctx, handle, segment)
			return

		case err := <-handle.Done():
			elapsed := time.Since(segment.StartTime)
			if err != nil || elapsed < minSegmentRuntime {
				failures++
				c.logger.Warn("Recording backend exited unexpectedly",
					"camera", c.camera.Name, "segment", segment.ID,
					"elapsed", elapsed, "failures", failures, "error", err)
				c.finalize(ctx, handle, segment)

				if failures >= c.settings.MaxFailures {
					c.logger.Error("Recording failure budget exhausted, stopping",
						"camera", c.camera.Name, "failures", failures)
					c.setStopped(NewRecorderError(c.camera.Name, "recording backend kept failing", err))
					return
				}

				select {
				case <-c.stopChan:
					return
				case <-time.After(c.settings.RetryDelay()):
				}
			} else {
				// Ran long enough to trust; the source likely dropped the
				// connection. Finalize and start a fresh segment at once.
				failures = 0
				c.logger.Warn("Recording backend exited, starting next segment",
					"camera", c.camera.Name, "segment", segment.ID, "elapsed", elapsed)
				c.finalize(ctx, handle, segment)
			}

			sequence++
			next, nextHandle, err := c.openSegment(ctx, c.recordingID, c.sessionDir, sequence, recordAudio)
			if err != nil {
				c.logger.Error("Failed to open next segment",
					"camera", c.camera.Name, "error", err)
				c.setStopped(err)
				return
			}
			segment, handle = next, nextHandle
			c.setCurrent(segment, handle)
			rotation.Reset(c.segmentInterval)

		case <-rotation.C:
			// Open the next segment before closing the current one so the
			// camera is covered across the boundary.
			sequence++
			next, nextHandle, err := c.openSegment(ctx, c.recordingID, c.sessionDir, sequence, recordAudio)
			if err != nil {
				c.logger.Error("Failed to rotate segment",
					"camera", c.camera.Name, "error", err)
				c.finalize(ctx, handle, segment)
				c.setStopped(err)
				return
			}

			c.finalize(ctx, handle, segment)
			failures = 0
			segment, handle = next, nextHandle
			c.setCurrent(segment, handle)
			rotation.Reset(c.segmentInterval)

			c.logger.Info("Segment rotated",
				"camera", c.camera.Name, "segment", segment.ID, "sequence", sequence)
		}
	}
}

// finalize stops the backend, measures the produced file and closes the
// segment record. Errors here are logged, not fatal; footage on disk
// outranks bookkeeping.
func (c *Controller) finalize(ctx context.Context, handle process.Handle, segment *Segment) {
	if err := handle.Stop(finalizeTimeout); err != nil {
		c.logger.Error("Failed to stop recording backend",
			"camera", c.camera.Name, "segment", segment.ID, "error", err)
	}

	endTime := time.Now()

	var sizeBytes int64
	if info, err := os.Stat(segment.Path); err == nil {
		sizeBytes = info.Size()
	} else {
		c.logger.Warn("Failed to stat segment file",
			"camera", c.camera.Name, "path", segment.Path, "error", err)
	}

	duration := endTime.Sub(segment.StartTime)
	if meta, err := c.probe.Probe(segment.Path); err == nil && meta.Duration > 0 {
		duration = meta.Duration
	}

	if err := c.repo.CloseSegment(ctx, segment.ID, endTime, sizeBytes, duration); err != nil {
		c.logger.Error("Failed to close segment record",
			"camera", c.camera.Name, "segment", segment.ID, "error", err)
	}
}

func (c *Controller) setCurrent(segment *Segment, handle process.Handle) {
	c.mu.Lock()
	c.current = segment
	c.handle = handle
	c.mu.Unlock()
}

func (c *Controller) setStopped(err error) {
	c.mu.Lock()
	c.recording = false
	c.current = nil
	c.handle = nil
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()
}

// Stop ends the recording session, finalizing the current segment. Safe
// to call when not recording.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	stopChan := c.stopChan
	doneChan := c.doneChan
	c.mu.Unlock()

	close(stopChan)
	<-doneChan

	c.mu.Lock()
	c.current = nil
	c.handle = nil
	c.mu.Unlock()

	c.logger.Info("Recording stopped", "camera", c.camera.Name)
}

// Recording reports whether a recording session is active.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// RecordingID returns the identifier of the active recording session, or
// empty when not recording.
func (c *Controller) RecordingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return ""
	}
	return c.recordingID
}

// SessionDir returns the directory of the active recording session.
func (c *Controller) SessionDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return ""
	}
	return c.sessionDir
}

// ActiveSegment returns a copy of the segment currently being written,
// or nil when not recording.
func (c *Controller) ActiveSegment() *Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	copied := *c.current
	return &copied
}

// Err returns the error that ended the last recording session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Segments lists all segments of the most recent recording session.
func (c *Controller) Segments(ctx context.Context) ([]*Segment, error) {
	c.mu.Lock()
	recordingID := c.recordingID
	c.mu.Unlock()

	if recordingID == "" {
		return nil, nil
	}
	return c.repo.GetByRecording(ctx, recordingID)
}
