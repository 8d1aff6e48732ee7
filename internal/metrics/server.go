package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Server serves /metrics and /healthz on a local address.
type Server struct {
	addr      string
	collector *Collector
	handler   http.Handler
}

// NewServer creates a metrics server for reg on addr.
func NewServer(addr string, reg *prometheus.Registry, c *Collector) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s := &Server{addr: addr, collector: c}
	mux.HandleFunc("GET /healthz", s.handleHealth)
	s.handler = mux
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

type healthResponse struct {
	Status               string  `json:"status"`
	CacheDepth           int     `json:"cache_depth"`
	LastSyncStatus       string  `json:"last_sync_status,omitempty"`
	SecondsSinceLastSync float64 `json:"seconds_since_last_sync"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.collector.stats.Stats()
	resp := healthResponse{
		Status:               "ok",
		CacheDepth:           st.CacheDepth,
		LastSyncStatus:       st.LastSyncStatus,
		SecondsSinceLastSync: s.collector.SecondsSinceLastSync(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("health response write failed", "error", err)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
