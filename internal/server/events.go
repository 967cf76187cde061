package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/programadorcaro/nenoflix-uploader/internal/session"
)

const (
	eventInterval  = time.Second
	eventWriteWait = 10 * time.Second
)

// handleEvents streams status snapshots for one upload over a
// websocket, once per second, until the upload completes or either
// side goes away. It is a push alternative to polling /upload/status.
func (s *Server) handleEvents(c *gin.Context) {
	uploadID := c.Param("uploadId")
	if _, err := s.store.Status(uploadID); err != nil {
		fail(c, http.StatusNotFound, "upload session not found")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "upload_id", uploadID, "error", err)
		return
	}
	defer conn.Close()

	// Drain the read side so close frames from the client are seen.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventInterval)
	defer ticker.Stop()

	for {
		st, err := s.store.Status(uploadID)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				s.logger.Warn("status stream read failed", "upload_id", uploadID, "error", err)
			}
			return
		}

		conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		if err := conn.WriteJSON(statusToWire(st)); err != nil {
			return
		}
		if st.IsComplete {
			return
		}

		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
