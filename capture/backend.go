package capture

import "time"

// StreamInfo describes the connected stream as reported by the decode
// backend.
type StreamInfo struct {
	Width  int
	Height int
	FPS    float64
	Codec  string
}

// OpenOptions controls how the decode backend connects to a stream.
type OpenOptions struct {
	// Transport selects the RTSP transport. TCP is preferred for
	// reliability over lossy links.
	Transport string

	// ReadTimeout bounds a single decode call so a dead connection shows
	// up as a failed read instead of a hang.
	ReadTimeout time.Duration

	// LowLatency configures the backend for minimal internal buffering.
	LowLatency bool
}

// Image is one decoded picture in BGR24 layout.
type Image struct {
	Data   []byte
	Width  int
	Height int
}

// Backend is the black-box decode engine a capture loop supervises. The
// loop owns the backend exclusively; it is never shared between loops.
type Backend interface {
	// Open connects to the stream. It may block up to the caller's
	// connect budget; exceeding it is the caller's problem to detect.
	Open(url string, opts OpenOptions) error

	// Info reports stream properties detected during Open.
	Info() StreamInfo

	// Drain discards up to n internally buffered frames without decoding
	// them, so the next Read decodes the newest available frame.
	Drain(n int)

	// Read decodes the next frame. A false return means the stream
	// failed or ended; the backend is not usable afterwards.
	Read() (Image, bool)

	// Close releases the connection and decoder resources.
	Close() error
}

// BackendFactory creates a fresh Backend for each connect attempt, so a
// reconnect never reuses a poisoned decoder.
type BackendFactory func() Backend
