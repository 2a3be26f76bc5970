package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopflow/etl/checkpoint"
	"github.com/shopflow/etl/config"
	"github.com/shopflow/etl/internal/metric"
	"github.com/shopflow/etl/logger"
)

// WatermarkProvider exposes the persisted watermark for the /checkpoint
// endpoint.
type WatermarkProvider interface {
	Load() (checkpoint.Watermark, error)
}

type Server interface {
	Listen()
	Shutdown()
}

type server struct {
	watermarks WatermarkProvider
	server     http.Server
	etlConfig  config.Config
	closed     bool
}

func NewServer(cfg config.Config, registry metric.Registry, watermarks WatermarkProvider) Server {
	s := &server{
		etlConfig:  cfg,
		watermarks: watermarks,
	}

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry.Prometheus(), promhttp.HandlerOpts{EnableOpenMetrics: true}))

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /checkpoint", s.handleCheckpoint)

	if cfg.DebugMode {
		mux.Handle("GET /pprof", pprof.Handler("shopflow-etl"))
	}

	s.server = http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metric.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

func (s *server) Listen() {
	logger.Info(fmt.Sprintf("server starting on port :%d", s.etlConfig.Metric.Port))

	err := s.server.ListenAndServe()
	if err != nil {
		if errors.Is(err, http.ErrServerClosed) && s.closed {
			logger.Info("server stopped")
			return
		}
		logger.Error("server cannot start", "port", s.etlConfig.Metric.Port, "error", err)
	}
}

func (s *server) Shutdown() {
	if s == nil {
		return
	}
	s.closed = true
	if err := s.server.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown", "error", err)
	}
}

func (s *server) handleCheckpoint(w http.ResponseWriter, _ *http.Request) {
	if s.watermarks == nil {
		http.Error(w, "checkpoint not available", http.StatusServiceUnavailable)
		return
	}

	watermark, err := s.watermarks.Load()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(watermark); err != nil {
		logger.Error("failed to encode checkpoint response", "error", err)
	}
}
