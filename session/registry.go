package session

import (
	"sort"
	"sync"

	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/logging"
)

// Registry holds one session per configured camera. There are no ambient
// globals; everything that needs a session goes through here.
type Registry struct {
	opts   Options
	logger logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates idle sessions for every camera in the list. No
// streams are started; that is an explicit operator action.
func NewRegistry(cameras []config.CameraConfig, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger
	}

	r := &Registry{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session, len(cameras)),
	}
	for _, camera := range cameras {
		r.sessions[camera.Name] = NewSession(camera, opts)
	}
	return r
}

// Get returns the session for a camera name.
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[name]
	return session, ok
}

// List returns all sessions ordered by camera name.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].camera.Name < out[j].camera.Name
	})
	return out
}

// Reload diffs the new camera list against the running sessions. An
// unchanged camera keeps its live session; a changed one is stopped and
// replaced with a fresh idle session; a removed one is stopped and
// dropped. Live sessions are never mutated in place.
func (r *Registry) Reload(cameras []config.CameraConfig) {
	desired := make(map[string]config.CameraConfig, len(cameras))
	for _, camera := range cameras {
		desired[camera.Name] = camera
	}

	var retired []*Session

	r.mu.Lock()
	for name, session := range r.sessions {
		camera, keep := desired[name]
		if keep && camera == session.Camera() {
			continue
		}
		retired = append(retired, session)
		delete(r.sessions, name)
		if keep {
			r.sessions[name] = NewSession(camera, r.opts)
			r.logger.Info("Camera configuration changed, session replaced", "camera", name)
		} else {
			r.logger.Info("Camera removed, session stopped", "camera", name)
		}
	}

	for name, camera := range desired {
		if _, exists := r.sessions[name]; !exists {
			r.sessions[name] = NewSession(camera, r.opts)
			r.logger.Info("Camera added", "camera", name)
		}
	}
	r.mu.Unlock()

	// Stop blocks on stream teardown; do it after releasing the lock so
	// Get and List stay responsive.
	for _, session := range retired {
		session.Stop()
	}
}

// StopAll stops every session. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}
}
