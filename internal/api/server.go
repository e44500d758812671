package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/joescharf/tracelink/internal/logging"
)

// HTTPServer runs Server on a listener and drains background work on stop.
type HTTPServer struct {
	server *http.Server
	api    *Server
	logger *logging.Logger
}

func NewHTTPServer(addr string, api *Server, logger *logging.Logger) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		api:    api,
		logger: logger.Component("http"),
	}
}

// Serve blocks until ctx is cancelled or the listener fails, then shuts
// down gracefully and waits for in-flight reconciliations.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	return s.Stop(context.Background())
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown failed", "error", err)
		return err
	}

	done := make(chan struct{})
	go func() {
		s.api.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("gave up waiting for in-flight reconciliations")
	}

	s.logger.Info("http server stopped")
	return nil
}
