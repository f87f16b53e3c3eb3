package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mtr002/thumbnail-queue/internal/logger"
)

type Server struct {
	server *http.Server
}

func NewServer(handler http.Handler, port string) *Server {
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%s", port),
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	logger.Logger.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	logger.Logger.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
