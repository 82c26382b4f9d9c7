package capture

import (
	"errors"
	"sync"
	"time"
)

// MockBackend is a Backend for tests. Frames are queued by the test;
// Read blocks briefly when the queue is empty to mimic a live stream
// waiting on the network.
type MockBackend struct {
	mu          sync.Mutex
	opened      bool
	closed      bool
	drained     int
	frames      []Image
	failAfter   int // fail reads once this many frames were delivered (-1: never)
	delivered   int
	openErr     error
	openDelay   time.Duration
	readTimeout time.Duration
	streamInfo  StreamInfo
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		failAfter:   -1,
		readTimeout: 200 * time.Millisecond,
		streamInfo:  StreamInfo{Width: 4, Height: 4, FPS: 25, Codec: "h264"},
	}
}

// QueueFrames adds n synthetic frames for Read to deliver.
func (b *MockBackend) QueueFrames(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.frames = append(b.frames, Image{Data: []byte{0, 0, 0}, Width: 4, Height: 4})
	}
}

// FailAfter makes Read fail once the given number of frames was
// delivered.
func (b *MockBackend) FailAfter(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAfter = n
}

// SetOpenError makes Open fail with the given error.
func (b *MockBackend) SetOpenError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// SetOpenDelay makes Open block for the given duration, for connect
// timeout tests.
func (b *MockBackend) SetOpenDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openDelay = d
}

func (b *MockBackend) Open(url string, opts OpenOptions) error {
	b.mu.Lock()
	delay := b.openDelay
	err := b.openErr
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("backend already closed")
	}
	b.opened = true
	return nil
}

func (b *MockBackend) Info() StreamInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamInfo
}

func (b *MockBackend) Drain(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for n > 0 && len(b.frames) > 1 {
		b.frames = b.frames[1:]
		b.drained++
		n--
	}
}

// Drained reports how many frames Drain discarded.
func (b *MockBackend) Drained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drained
}

// Read delivers the next queued frame. With an empty queue it waits up
// to readTimeout and then fails, the way a real backend's read timeout
// surfaces a dead connection.
func (b *MockBackend) Read() (Image, bool) {
	deadline := time.Now().Add(b.readTimeout)
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return Image{}, false
		}
		if b.failAfter >= 0 && b.delivered >= b.failAfter {
			b.mu.Unlock()
			return Image{}, false
		}
		if len(b.frames) > 0 {
			img := b.frames[0]
			b.frames = b.frames[1:]
			b.delivered++
			b.mu.Unlock()
			return img, true
		}
		b.mu.Unlock()

		if time.Now().After(deadline) {
			return Image{}, false
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *MockBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *MockBackend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
