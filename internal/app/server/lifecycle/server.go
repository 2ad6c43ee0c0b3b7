// Package lifecycle runs the HTTP server on a listener that can be taken
// down for a while and brought back on the same address.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrOutageInProgress = errors.New("outage already in progress")
	ErrNotRunning       = errors.New("server is not running")
)

const relistenBackoff = time.Second

// Server wraps http.Server with a suspendable listener.
type Server struct {
	srv    *http.Server
	logger *logrus.Logger
	listen func(network, address string) (net.Listener, error)

	mu      sync.Mutex
	addr    string
	ln      net.Listener
	down    bool
	closed  bool
	stop    chan struct{}
	errs    chan error
	pending sync.WaitGroup
}

func New(addr string, handler http.Handler, logger *logrus.Logger) *Server {
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		logger: logger,
		listen: net.Listen,
		addr:   addr,
		stop:   make(chan struct{}),
		errs:   make(chan error, 1),
	}
}

// SetHandler replaces the request handler. It must be called before Start.
func (s *Server) SetHandler(h http.Handler) {
	s.srv.Handler = h
}

// Start binds the listener and serves in the background. After Start, Addr
// reports the resolved address, which later outages reuse.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return http.ErrServerClosed
	}

	ln, err := s.listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.ln = ln
	s.serve(ln)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	go func() {
		err := s.srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
			return
		}
		select {
		case s.errs <- err:
		default:
		}
	}()
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Port returns the port part of the bound address.
func (s *Server) Port() string {
	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return ""
	}
	return port
}

// Errors delivers unexpected serve failures.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Down reports whether the listener is currently suspended.
func (s *Server) Down() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

// Suspend stops accepting connections for d. In-flight requests finish,
// idle keep-alive connections are closed. onDown runs once the listener is
// closed and onUp once it accepts again; either may be nil.
func (s *Server) Suspend(d time.Duration, onDown, onUp func()) error {
	s.mu.Lock()
	if s.closed || (s.ln == nil && !s.down) {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if s.down {
		s.mu.Unlock()
		return ErrOutageInProgress
	}
	s.down = true
	ln := s.ln
	s.ln = nil
	s.pending.Add(1)
	s.mu.Unlock()

	s.srv.SetKeepAlivesEnabled(false)
	if err := ln.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close listener")
	}
	s.logger.WithField("duration", d).Info("Server is temporarily down")
	if onDown != nil {
		onDown()
	}

	go func() {
		defer s.pending.Done()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-s.stop:
			return
		case <-timer.C:
		}
		if s.resume() && onUp != nil {
			onUp()
		}
	}()
	return nil
}

// resume re-listens on the previous address, retrying until it succeeds or
// the server is shut down.
func (s *Server) resume() bool {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return false
		}
		ln, err := s.listen("tcp", s.addr)
		if err == nil {
			s.ln = ln
			s.down = false
			s.srv.SetKeepAlivesEnabled(true)
			s.serve(ln)
			s.mu.Unlock()
			s.logger.WithField("addr", ln.Addr().String()).Info("Server is back up")
			return true
		}
		s.mu.Unlock()

		s.logger.WithError(err).Warn("Failed to resume listening, retrying")
		select {
		case <-s.stop:
			return false
		case <-time.After(relistenBackoff):
		}
	}
}

// Shutdown cancels a pending resume and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	s.mu.Unlock()

	err := s.srv.Shutdown(ctx)
	s.pending.Wait()
	return err
}
