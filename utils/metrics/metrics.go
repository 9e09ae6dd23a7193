// Package metrics holds the prometheus instrumentation for the engine
// and a small exposition server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// EngineMetrics counts what the scan loop sees and what survives validation.
type EngineMetrics struct {
	ScanCycles   prometheus.Counter
	ScanDuration prometheus.Histogram
	Candidates   prometheus.Counter
	Accepted     prometheus.Counter
	Rejected     *prometheus.CounterVec
	SpreadBps    prometheus.Histogram
	GasPrice     prometheus.Histogram
}

func NewEngineMetrics(namespace string) *EngineMetrics {
	return &EngineMetrics{
		ScanCycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cycles_total",
			Help:      "Total number of completed scan cycles",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one scan cycle",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		Candidates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Total number of raw arbitrage candidates discovered",
		}),
		Accepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_accepted_total",
			Help:      "Total number of candidates that passed validation",
		}),
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_rejected_total",
			Help:      "Total number of rejected candidates by reason",
		}, []string{"reason"}),
		SpreadBps: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidate_spread_bps",
			Help:      "Spread of discovered candidates in basis points",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		GasPrice: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "network_gas_price_wei",
			Help:      "Network gas price observed at validation time",
			Buckets:   prometheus.ExponentialBuckets(1e9, 2, 15), // Start at 1 gwei
		}),
	}
}

// Server exposes the default prometheus registry over HTTP.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background until Shutdown is called.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics endpoint listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
