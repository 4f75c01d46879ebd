// Package metrics counts scenario outcomes and fallback attempts for one run
// and writes them as a Prometheus text file.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
)

// Collector captures metrics for one e2e run.
type Collector struct {
	registry         *prometheus.Registry
	scenariosTotal   *prometheus.CounterVec
	scenarioDuration *prometheus.HistogramVec
	attemptsTotal    *prometheus.CounterVec
	runInfo          *prometheus.GaugeVec
}

// NewCollector initializes a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		scenariosTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "e2e_scenarios_total", Help: "Scenarios finished, by status"},
			[]string{"status"},
		),
		scenarioDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "e2e_scenario_duration_seconds",
				Help:    "Scenario duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"group", "status"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "e2e_fallback_attempts_total", Help: "Fallback attempts, by action and result"},
			[]string{"action", "result"},
		),
		runInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "e2e_run_info", Help: "Run metadata for traceability"},
			[]string{"run_id", "base_url", "browser"},
		),
	}
	registry.MustRegister(c.scenariosTotal, c.scenarioDuration, c.attemptsTotal, c.runInfo)
	return c
}

// ObserveScenario records one finished scenario.
func (c *Collector) ObserveScenario(group, status string, duration time.Duration) {
	c.scenariosTotal.WithLabelValues(status).Inc()
	c.scenarioDuration.WithLabelValues(group, status).Observe(duration.Seconds())
}

// ObserveAttempt records one fallback attempt result.
func (c *Collector) ObserveAttempt(action, result string) {
	c.attemptsTotal.WithLabelValues(action, result).Inc()
}

// ObserveRun records run metadata.
func (c *Collector) ObserveRun(runID, baseURL, browser string) {
	c.runInfo.WithLabelValues(runID, baseURL, browser).Set(1)
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Write writes all metrics to a Prometheus text file.
func (c *Collector) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.Internal, "create metrics dir", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return errs.Wrap(errs.Internal, "write metrics", err)
	}
	return nil
}
