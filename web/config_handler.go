package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/logging"
	"github.com/imbgar/rtsp-viewer/session"
)

// ConfigHandler reloads camera configuration at runtime
type ConfigHandler struct {
	logger     logging.Logger
	configPath string
	registry   *session.Registry
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(logger logging.Logger, configPath string, registry *session.Registry) *ConfigHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &ConfigHandler{
		logger:     logger,
		configPath: configPath,
		registry:   registry,
	}
}

// Reload handles POST /api/config/reload. The file is re-read and
// validated as a whole; a malformed file leaves the running sessions
// untouched.
func (h *ConfigHandler) Reload(c *gin.Context) {
	cfg, err := config.LoadConfig(h.configPath)
	if err != nil {
		h.logger.Warn("Config reload rejected", "path", h.configPath, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.registry.Reload(cfg.Cameras)
	h.logger.Info("Configuration reloaded", "cameras", len(cfg.Cameras))

	c.JSON(http.StatusOK, gin.H{
		"status":  "reloaded",
		"cameras": len(cfg.Cameras),
	})
}
