package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

const shutdownGrace = 10 * time.Second

// Server wraps the routed handler in an *http.Server, grounded on the
// teacher's HealthServer/MetricsServer Start(ctx)-blocks-until-cancelled
// lifecycle.
type Server struct {
	server *http.Server
	log    logr.Logger
}

// NewServer binds a Router's handler to host:port.
func NewServer(rt *Router, host string, port int, log logr.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", host, port),
			Handler: rt.Handler(),
		},
		log: log,
	}
}

// Start begins serving and blocks until ctx is cancelled, at which point it
// gives in-flight requests shutdownGrace to finish before closing.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Error(err, "http server shutdown error")
			return err
		}
		return nil
	}
}
