package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// livePollInterval bounds how often the live feed polls for a new frame.
// Polling faster than the camera produces frames just burns CPU.
const livePollInterval = 33 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The viewer is a LAN tool; cross-origin embedding is expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Live handles GET /api/cameras/:name/live. It upgrades to a websocket
// and pushes each new frame as a binary JPEG message until the client
// disconnects.
func (h *SessionHandler) Live(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "camera", sess.Camera().Name, "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("Live feed opened", "camera", sess.Camera().Name, "remote", conn.RemoteAddr())

	// Drain client messages so close frames and pings are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePollInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-clientGone:
			h.logger.Info("Live feed closed", "camera", sess.Camera().Name)
			return
		case <-ticker.C:
		}

		frame, ok := sess.LatestFrame()
		if !ok || frame.Seq == lastSeq {
			continue
		}
		lastSeq = frame.Seq

		jpeg, err := encodeJPEG(frame)
		if err != nil {
			h.logger.Warn("Failed to encode live frame", "camera", sess.Camera().Name, "error", err)
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, jpeg); err != nil {
			h.logger.Info("Live feed write failed, closing", "camera", sess.Camera().Name, "error", err)
			return
		}
	}
}
