// Package web exposes the session registry over HTTP: status, lifecycle
// operations, snapshots and a websocket live feed.
package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(sessionHandler *SessionHandler, configHandler *ConfigHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	setupRoutes(router, sessionHandler, configHandler)
	return router
}

// setupRoutes configures the HTTP routes
func setupRoutes(router *gin.Engine, sessionHandler *SessionHandler, configHandler *ConfigHandler) {
	api := router.Group("/api")

	api.GET("/cameras", sessionHandler.ListSessions)

	camera := api.Group("/cameras/:name")
	camera.GET("/status", sessionHandler.GetStatus)
	camera.POST("/start", sessionHandler.StartSession)
	camera.POST("/stop", sessionHandler.StopSession)
	camera.POST("/restart", sessionHandler.RestartSession)
	camera.PUT("/recording", sessionHandler.SetRecording)
	camera.PUT("/audio", sessionHandler.SetAudio)
	camera.GET("/frame", sessionHandler.Snapshot)
	camera.GET("/live", sessionHandler.Live)
	camera.GET("/segments", sessionHandler.ListSegments)

	api.POST("/config/reload", configHandler.Reload)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "rtsp-viewer",
		})
	})
}
