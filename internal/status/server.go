// Package status serves the bridge's Prometheus metrics and a JSON health summary.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"energybridge/pkg/types"
)

const readHeaderTimeout = 5 * time.Second

// Provider reports the current bridge health.
type Provider interface {
	Status() types.BridgeStatus
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr     string
	registry *prometheus.Registry
	provider Provider
	logger   *zap.Logger
	router   *mux.Router

	mu     sync.Mutex
	server *http.Server
}

// NewServer builds the router; call Start to listen.
func NewServer(addr string, registry *prometheus.Registry, provider Provider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:     addr,
		registry: registry,
		provider: provider,
		logger:   logger.With(zap.String("component", "status")),
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/healthz", s.getHealth).Methods(http.MethodGet)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. The bound address is returned so ":0" can be used.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return "", errors.New("status server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", err
	}

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("✓ Status server listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.provider.Status()

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to encode status", zap.Error(err))
	}
}
