package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/thumbnail-queue/internal/logger"
)

// StatusHandler receives decoded status events
type StatusHandler func(JobStatusMessage)

// Server subscribes to job status events on behalf of an API instance
type Server struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	handler StatusHandler
}

func NewServer(conn *nats.Conn, handler StatusHandler) *Server {
	return &Server{
		conn:    conn,
		handler: handler,
	}
}

func (s *Server) Subscribe() error {
	sub, err := s.conn.Subscribe(JobStatusSubject, func(msg *nats.Msg) {
		var statusMsg JobStatusMessage
		if err := json.Unmarshal(msg.Data, &statusMsg); err != nil {
			logger.Logger.Warn().Err(err).Msg("Ignoring malformed job status message")
			return
		}
		s.handler(statusMsg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to NATS: %w", err)
	}

	s.sub = sub
	return nil
}

func (s *Server) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}
