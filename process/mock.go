package process

import (
	"sync"
	"time"
)

// MockLauncher is a Launcher for tests. It records every launch and lets
// the test decide when each fake process exits.
type MockLauncher struct {
	mu       sync.Mutex
	launches []Spec
	handles  []*MockHandle

	// FailNext makes the next Launch call return this error once.
	FailNext error
}

func NewMockLauncher() *MockLauncher {
	return &MockLauncher{}
}

func (l *MockLauncher) Launch(spec Spec) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailNext != nil {
		err := l.FailNext
		l.FailNext = nil
		return nil, err
	}

	h := &MockHandle{
		Spec: spec,
		done: make(chan error, 1),
	}
	l.launches = append(l.launches, spec)
	l.handles = append(l.handles, h)
	return h, nil
}

// Launches returns a copy of all recorded launch specs.
func (l *MockLauncher) Launches() []Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Spec, len(l.launches))
	copy(out, l.launches)
	return out
}

// Handles returns all handles created so far, in launch order.
func (l *MockLauncher) Handles() []*MockHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*MockHandle, len(l.handles))
	copy(out, l.handles)
	return out
}

// Running counts fake processes that have not exited yet.
func (l *MockLauncher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, h := range l.handles {
		if !h.Exited() {
			n++
		}
	}
	return n
}

// MockHandle is a fake process controlled by the test.
type MockHandle struct {
	Spec Spec

	mu       sync.Mutex
	exited   bool
	stopped  bool
	killed   bool
	done     chan error
	exitErr  error
	exitOnce sync.Once
}

// Exit makes the fake process terminate with the given result.
func (h *MockHandle) Exit(err error) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		h.exited = true
		h.exitErr = err
		h.mu.Unlock()
		h.done <- err
		close(h.done)
	})
}

func (h *MockHandle) Done() <-chan error {
	return h.done
}

func (h *MockHandle) Stop(timeout time.Duration) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	// A real backend exits promptly on a graceful stop; emulate that.
	h.Exit(nil)
	return nil
}

func (h *MockHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.Exit(nil)
	return nil
}

// Exited reports whether the fake process has terminated.
func (h *MockHandle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Stopped reports whether Stop was called on the handle.
func (h *MockHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Killed reports whether Kill was called on the handle.
func (h *MockHandle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}
