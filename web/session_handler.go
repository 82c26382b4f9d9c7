package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imbgar/rtsp-viewer/logging"
	"github.com/imbgar/rtsp-viewer/recording"
	"github.com/imbgar/rtsp-viewer/session"
)

// SessionHandler exposes the per-camera session operations over HTTP
type SessionHandler struct {
	logger   logging.Logger
	registry *session.Registry
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(logger logging.Logger, registry *session.Registry) *SessionHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &SessionHandler{
		logger:   logger,
		registry: registry,
	}
}

// lookup resolves the camera name path parameter to a session or writes
// a 404.
func (h *SessionHandler) lookup(c *gin.Context) (*session.Session, bool) {
	name := c.Param("name")
	sess, ok := h.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown camera: " + name})
		return nil, false
	}
	return sess, true
}

// ListSessions handles GET /api/cameras
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions := h.registry.List()
	statuses := make([]session.Status, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, sess.Status())
	}
	c.JSON(http.StatusOK, gin.H{"cameras": statuses})
}

// GetStatus handles GET /api/cameras/:name/status
func (h *SessionHandler) GetStatus(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

// StartSession handles POST /api/cameras/:name/start
func (h *SessionHandler) StartSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := sess.Start(); err != nil {
		h.logger.Warn("Session start failed", "camera", sess.Camera().Name, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

// StopSession handles POST /api/cameras/:name/stop
func (h *SessionHandler) StopSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	sess.Stop()
	c.JSON(http.StatusOK, sess.Status())
}

// RestartSession handles POST /api/cameras/:name/restart
func (h *SessionHandler) RestartSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := sess.Restart(); err != nil {
		h.logger.Warn("Session restart failed", "camera", sess.Camera().Name, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

// ToggleRequest represents the body of the recording and audio toggles
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetRecording handles PUT /api/cameras/:name/recording
func (h *SessionHandler) SetRecording(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected JSON body with 'enabled' boolean"})
		return
	}

	if err := sess.SetRecording(*req.Enabled); err != nil {
		if session.IsPreconditionError(err) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to toggle recording", "camera", sess.Camera().Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

// SetAudio handles PUT /api/cameras/:name/audio
func (h *SessionHandler) SetAudio(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected JSON body with 'enabled' boolean"})
		return
	}

	if err := sess.SetAudio(*req.Enabled); err != nil {
		if session.IsPreconditionError(err) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to toggle audio", "camera", sess.Camera().Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

// ListSegments handles GET /api/cameras/:name/segments
func (h *SessionHandler) ListSegments(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	segments, err := sess.Segments(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list segments", "camera", sess.Camera().Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list segments"})
		return
	}
	if segments == nil {
		segments = []*recording.Segment{}
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

// Snapshot handles GET /api/cameras/:name/frame, returning the newest
// frame as a JPEG image.
func (h *SessionHandler) Snapshot(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	frame, ok := sess.LatestFrame()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No frame available"})
		return
	}

	jpeg, err := encodeJPEG(frame)
	if err != nil {
		h.logger.Error("Failed to encode frame", "camera", sess.Camera().Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode frame"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}
