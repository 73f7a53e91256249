// Package metrics exports run, worker and tool activity as Prometheus
// collectors.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/pkg/models"
)

const namespace = "rfd"

// Metrics holds the collectors. A nil *Metrics ignores every observation.
type Metrics struct {
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	runCost        prometheus.Counter
	tokens         *prometheus.CounterVec
	workers        *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Orchestrator runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of orchestrator runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		runCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_cost_usd_total",
			Help:      "Estimated model spend across runs.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed across runs, planning and synthesis included.",
		}, []string{"kind"}),
		workers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Ephemeral worker executions by agent type and outcome.",
		}, []string{"agent_type", "status"}),
		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "duration_seconds",
			Help:      "Time from agent creation to deletion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent_type"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.runDuration, m.runCost, m.tokens, m.workers, m.workerDuration, m.toolCalls} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveWorker records one finished worker.
func (m *Metrics) ObserveWorker(am models.AgentMetrics, status models.WorkerStatus) {
	if m == nil {
		return
	}
	agentType := string(am.AgentType)
	m.workers.WithLabelValues(agentType, string(status)).Inc()
	m.workerDuration.WithLabelValues(agentType).Observe(am.Duration().Seconds())
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveRun records a finished run's totals.
func (m *Metrics) ObserveRun(summary agent.RunSummary, status models.RunStatus) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.Observe(float64(summary.DurationMS) / 1000)
	m.runCost.Add(summary.EstimatedCostUSD)
	m.tokens.WithLabelValues("input").Add(float64(summary.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(summary.OutputTokens))
	m.tokens.WithLabelValues("thinking").Add(float64(summary.ThinkingTokens))
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
