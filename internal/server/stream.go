package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // API key auth already ran
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamProgress pushes batch progress over a WebSocket at the configured
// poll interval. The stream ends after the first terminal status.
func (s *Server) streamProgress(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	// Resolve the batch first so a missing one is a plain 404.
	p, err := s.deps.Batches.Progress(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "batch_id", id, "error", err)
		return
	}
	defer conn.Close()

	// The reader only watches for the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	interval := time.Duration(s.deps.Settings.Current().Queue.ProgressPollSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(progressResponse{Success: true, Progress: p}); err != nil {
			s.logger.Debug("progress stream closed", "batch_id", id, "error", err)
			return
		}
		if p.Status.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(p.Status)),
				time.Now().Add(streamWriteTimeout))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}

		if p, err = s.deps.Batches.Progress(ctx, id); err != nil {
			_ = conn.WriteJSON(map[string]any{"success": false, "error": err.Error()})
			return
		}
	}
}
