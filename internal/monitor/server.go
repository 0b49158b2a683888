package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes /healthz, /metrics and the status page over HTTP
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *logrus.Entry
}

// NewServer builds the observability server. Pass
// prometheus.DefaultGatherer unless the registry is private.
func NewServer(addr string, checker *HealthChecker, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.HTTPHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:    mux,
		logger: logrus.WithField("component", "monitor"),
	}
}

// RegisterStatus serves an HTML status page at / and its JSON feed at
// /statusz
func (s *Server) RegisterStatus(deps StatusDeps) {
	started := time.Now()
	s.mux.HandleFunc("/", statusPage())
	s.mux.HandleFunc("/statusz", statusJSON(deps, started))
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Monitor listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Monitor server error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop monitor server: %w", err)
	}
	return nil
}
