// Package metrics exports run counters in the Prometheus text format so a
// node_exporter textfile collector can pick them up.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FileName is the export file inside the state directory.
const FileName = "metrics.prom"

const namespace = "taskmaster"

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	hookDuration  *prometheus.HistogramVec
	agentDuration *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	pauses        *prometheus.CounterVec
	tasks         *prometheus.GaugeVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: task, outcome (succeeded, failed, paused)
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Task attempts by outcome",
		}, []string{"task", "outcome"}),

		// Labels: decision (retry, escalate, abort, skip)
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_decisions_total",
			Help:      "Failure policy decisions",
		}, []string{"decision"}),

		// Labels: phase (pre, post), status (passed, failed)
		hookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hook",
			Name:      "duration_seconds",
			Help:      "Hook execution time",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"phase", "status"}),

		// Labels: provider, status (ok, rate_limited, error)
		agentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "request_duration_seconds",
			Help:      "Provider request latency",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"provider", "status"}),

		// Labels: provider, direction (input, output)
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tokens_total",
			Help:      "Tokens reported by providers",
		}, []string{"provider", "direction"}),

		// Labels: reason (run status that ended the invocation)
		pauses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pauses_total",
			Help:      "Runs that stopped in a paused state",
		}, []string{"reason"}),

		// Labels: status (completed, skipped, pending)
		tasks: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks in the current run by status",
		}, []string{"status"}),
	}
}

// Registry exposes the registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAttempt counts one attempt outcome.
func (m *Metrics) RecordAttempt(task, outcome string) {
	m.attempts.WithLabelValues(task, outcome).Inc()
}

// RecordDecision counts one escalator decision.
func (m *Metrics) RecordDecision(decision string) {
	m.decisions.WithLabelValues(decision).Inc()
}

// ObserveHook records a hook run.
func (m *Metrics) ObserveHook(phase string, passed bool, d time.Duration) {
	status := "passed"
	if !passed {
		status = "failed"
	}
	m.hookDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

// ObserveAgent records a provider call and the tokens it consumed.
func (m *Metrics) ObserveAgent(provider, status string, d time.Duration, input, output int64) {
	m.agentDuration.WithLabelValues(provider, status).Observe(d.Seconds())
	if input > 0 {
		m.tokens.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(provider, "output").Add(float64(output))
	}
}

// RecordPause counts a run ending in a paused status.
func (m *Metrics) RecordPause(reason string) {
	m.pauses.WithLabelValues(reason).Inc()
}

// SetTasks publishes the task status breakdown.
func (m *Metrics) SetTasks(completed, skipped, pending int) {
	m.tasks.WithLabelValues("completed").Set(float64(completed))
	m.tasks.WithLabelValues("skipped").Set(float64(skipped))
	m.tasks.WithLabelValues("pending").Set(float64(pending))
}

// WriteFile exports all metrics to <stateDir>/metrics.prom atomically.
func (m *Metrics) WriteFile(stateDir string) (string, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, FileName)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return "", fmt.Errorf("write metrics: %w", err)
	}
	return path, nil
}
