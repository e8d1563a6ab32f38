package web

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/pandalabs/go-panda/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound message size allowed
	maxMessageSize = 4 * 1024
)

// handleStreamWS attaches one observer to a session's chunk stream and
// pumps chunks out as JSON push messages until the client disconnects.
func (s *Server) handleStreamWS(c *websocket.Conn) {
	sessionID := c.Params("session")
	obs := s.bus.Subscribe(sessionID)
	defer s.bus.Unsubscribe(obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Read pump: we expect nothing from observers, but reading detects
	// disconnection and services pong frames.
	go func() {
		defer cancel()
		c.SetReadLimit(maxMessageSize)
		c.SetReadDeadline(time.Now().Add(pongWait))
		c.SetPongHandler(func(string) error {
			c.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Bridge the observer into a channel so the write pump can also
	// service ping ticks.
	chunks := make(chan protocol.StreamChunk)
	go func() {
		defer close(chunks)
		for {
			chunk, err := obs.Next(ctx)
			if err != nil {
				return
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case chunk, ok := <-chunks:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := chunk.Bytes()
			if err != nil {
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
