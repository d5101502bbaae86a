package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"intakebot/pkg/logx"
)

// Server owns the listener for the API router.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string
}

func NewServer(log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log}
}

// Listen binds addr. Serve must be called afterwards.
func (s *Server) Listen(addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()
	return nil
}

// Addr reports the bound address, useful when listening on ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve blocks until the server is shut down. It returns at once when
// Listen was never called or Shutdown already ran.
func (s *Server) Serve(_ context.Context) error {
	s.mu.Lock()
	srv, ln, addr := s.srv, s.ln, s.addr
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info("http listening", logx.String("addr", addr))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, ln := s.srv, s.ln
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	// Shutdown only closes listeners Serve has seen.
	_ = ln.Close()
	if err != nil {
		s.log.Warn("http shutdown incomplete; closing", logx.Err(err))
		_ = srv.Close()
	}
	s.log.Info("http stopped")
	return err
}
