package probe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cartouche/internal/config"
	"github.com/cartouche/internal/logger"
)

// Server serves Prometheus metrics and health endpoints.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates the metrics server. ready backs /readyz; nil means always ready.
func NewServer(cfg config.Metrics, gatherer prometheus.Gatherer, ready func() bool, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           newMux(cfg.Path, gatherer, ready),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log.With(logger.Component("metrics")),
	}
}

func newMux(path string, gatherer prometheus.Gatherer, ready func() bool) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Liveness probe
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Readiness probe
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// Handler returns the server's handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("serving metrics", "address", l.Addr().String())
	if err := s.server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
