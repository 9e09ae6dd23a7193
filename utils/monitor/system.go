// Package monitor samples Go runtime statistics into prometheus gauges.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RuntimeMonitor periodically publishes goroutine and heap statistics.
type RuntimeMonitor struct {
	interval time.Duration
	logger   *zap.Logger

	goroutines  prometheus.Gauge
	heapAlloc   prometheus.Gauge
	heapObjects prometheus.Gauge
	gcPause     prometheus.Gauge

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntimeMonitor registers the runtime gauges with reg. A nil reg uses
// the default registerer.
func NewRuntimeMonitor(interval time.Duration, reg prometheus.Registerer, logger *zap.Logger) (*RuntimeMonitor, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	m := &RuntimeMonitor{
		interval: interval,
		logger:   logger,
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runtime_goroutines",
			Help: "Current number of goroutines",
		}),
		heapAlloc: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runtime_heap_alloc_bytes",
			Help: "Current heap allocation in bytes",
		}),
		heapObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runtime_heap_objects",
			Help: "Current number of heap objects",
		}),
		gcPause: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runtime_gc_pause_seconds",
			Help: "Most recent GC pause duration",
		}),
	}

	for _, c := range []prometheus.Collector{m.goroutines, m.heapAlloc, m.heapObjects, m.gcPause} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Start begins sampling until the context is cancelled or Stop is called.
func (m *RuntimeMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (m *RuntimeMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *RuntimeMonitor) sample() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.heapAlloc.Set(float64(stats.HeapAlloc))
	m.heapObjects.Set(float64(stats.HeapObjects))
	m.gcPause.Set(float64(stats.PauseNs[(stats.NumGC+255)%256]) / float64(time.Second))
}

// Snapshot returns the current runtime statistics, mostly for debug logging.
func (m *RuntimeMonitor) Snapshot() map[string]int64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return map[string]int64{
		"goroutines":   int64(runtime.NumGoroutine()),
		"heap_alloc":   int64(stats.HeapAlloc),
		"heap_objects": int64(stats.HeapObjects),
	}
}
