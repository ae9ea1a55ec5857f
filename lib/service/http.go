// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Connection timeouts for the session API listener. Byte submissions
// can carry a full chunk window from recorders on slow uplinks, so the
// body read window is generous; header and idle timeouts stay tight to
// shed stuck clients.
const (
	defaultShutdownTimeout = 10 * time.Second
	headerReadTimeout      = 10 * time.Second
	bodyReadTimeout        = 5 * time.Minute
	responseWriteTimeout   = 2 * time.Minute
	idleConnTimeout        = 2 * time.Minute
)

// HTTPServerConfig configures an HTTPServer. Address, Handler, and
// Logger are required; NewHTTPServer panics when one is missing, since
// a service binary cannot limp along without them.
type HTTPServerConfig struct {
	// Address is the TCP listen address, for example ":8632", or
	// "127.0.0.1:0" for an OS-assigned port.
	Address string

	// Handler receives every request. Routing, request decoding, and
	// orchestrator calls all live behind it.
	Handler http.Handler

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight requests once Serve's context is cancelled. Zero
	// means 10 seconds.
	ShutdownTimeout time.Duration

	// Logger records lifecycle events.
	Logger *slog.Logger
}

// HTTPServer owns the session API listener lifecycle: bind, signal
// readiness, serve, drain. Serve blocks until its context is cancelled
// and in-flight requests finish, so a main can run it under
// signal.NotifyContext and get clean shutdown for free.
type HTTPServer struct {
	cfg   HTTPServerConfig
	ready chan struct{} // closed once the listener is bound
	addr  net.Addr      // resolved address, set before ready closes
}

// NewHTTPServer validates cfg and returns a server ready for Serve.
func NewHTTPServer(cfg HTTPServerConfig) *HTTPServer {
	switch {
	case cfg.Address == "":
		panic("service.HTTPServer: Address is required")
	case cfg.Handler == nil:
		panic("service.HTTPServer: Handler is required")
	case cfg.Logger == nil:
		panic("service.HTTPServer: Logger is required")
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &HTTPServer{cfg: cfg, ready: make(chan struct{})}
}

// Ready returns a channel that closes once the listener is bound and
// the server is accepting connections.
func (s *HTTPServer) Ready() <-chan struct{} { return s.ready }

// Addr reports the resolved listen address, valid once Ready is
// closed. With a ":0" Address this carries the OS-assigned port.
func (s *HTTPServer) Addr() net.Addr { return s.addr }

// Serve accepts requests until ctx is cancelled, then stops the
// listener and drains in-flight requests for up to ShutdownTimeout.
// A listener that fails outright surfaces as the returned error.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)
	s.cfg.Logger.Info("http server listening", "address", s.addr.String())

	server := &http.Server{
		Handler:           s.cfg.Handler,
		ReadHeaderTimeout: headerReadTimeout,
		ReadTimeout:       bodyReadTimeout,
		WriteTimeout:      responseWriteTimeout,
		IdleTimeout:       idleConnTimeout,
	}

	failed := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		failed <- err
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}

	s.cfg.Logger.Info("http server shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.cfg.Logger.Info("http server stopped")
	return nil
}
