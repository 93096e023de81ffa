package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tweag/asset-relay/internal/logging"
)

// Server owns one listener.
type Server struct {
	name   string
	server *http.Server
}

// NewServer configures an http.Server for handler.
// A zero writeTimeout leaves long downloads uninterrupted.
func NewServer(name, addr string, handler http.Handler, writeTimeout time.Duration) *Server {
	return &Server{
		name: name,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

func (s *Server) Addr() string {
	return s.server.Addr
}

// ListenAndServe blocks until the server is closed.
// A regular shutdown is not an error.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	logging.Basicf("%s listening on %s", s.name, listener.Addr())
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown waits for active requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		logging.Warningf("%s forced to shut down: %v", s.name, err)
		return err
	}
	logging.Basicf("%s exited gracefully", s.name)
	return nil
}
