package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/angeloszaimis/reverse-proxy/internal/metrics"
	"github.com/angeloszaimis/reverse-proxy/internal/registry"
)

// Monitor periodically probes each backend's health path and tracks the
// last observed status. Backends without a health path are not probed.
type Monitor struct {
	reg              *registry.Registry
	interval         time.Duration
	logger           *slog.Logger
	metricsCollector *metrics.Collector

	mutex    sync.RWMutex
	statuses map[string]bool
}

func NewMonitor(reg *registry.Registry, interval time.Duration, logger *slog.Logger, collector *metrics.Collector) *Monitor {
	return &Monitor{
		reg:              reg,
		interval:         interval,
		logger:           logger,
		metricsCollector: collector,
		statuses:         make(map[string]bool),
	}
}

// Start launches one probe loop per backend with a health path. Loops
// stop when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	for _, b := range m.reg.All() {
		if b.HealthPath == "" {
			continue
		}
		go m.probe(ctx, b)
	}
}

// Statuses returns the last observed health status per probed backend.
func (m *Monitor) Statuses() map[string]bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	statuses := make(map[string]bool, len(m.statuses))
	for name, healthy := range m.statuses {
		statuses[name] = healthy
	}
	return statuses
}

func (m *Monitor) probe(ctx context.Context, b registry.Backend) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	healthURL := url.URL{
		Scheme: "http",
		Host:   b.HostPort(),
		Path:   b.HealthPath,
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health check stopped",
				slog.String("backend", b.Name))
			return

		case <-ticker.C:
			req, err := http.NewRequestWithContext(
				ctx, http.MethodGet, healthURL.String(), nil)
			if err != nil {
				continue
			}

			res, err := client.Do(req)
			if err != nil {
				m.record(b.Name, false)
				continue
			}
			res.Body.Close()

			m.record(b.Name, res.StatusCode == http.StatusOK)
		}
	}
}

func (m *Monitor) record(name string, healthy bool) {
	m.mutex.Lock()
	previous, seen := m.statuses[name]
	m.statuses[name] = healthy
	m.mutex.Unlock()

	if seen && previous == healthy {
		return
	}

	if healthy {
		m.logger.Info("Backend is up", slog.String("backend", name))
	} else {
		m.logger.Warn("Backend is down", slog.String("backend", name))
	}

	if m.metricsCollector != nil {
		m.metricsCollector.Emit(metrics.MetricEvent{
			Type:      metrics.EventHealthChanged,
			Timestamp: time.Now(),
			Backend:   name,
			Healthy:   healthy,
		})
	}
}
