// Package metrics counts what dnswatch runs do in a private Prometheus
// registry. A run is short-lived, so the registry is written to a
// node_exporter textfile instead of being served.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dnswatch/internal/domain"
	"dnswatch/internal/provider"
)

const namespace = "dnswatch"

// Collector owns the registry and the dnswatch metric families.
type Collector struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	lastRun         prometheus.Gauge
	addressChanges  prometheus.Counter
	toolCalls       *prometheus.CounterVec
	toolSeconds     *prometheus.HistogramVec
	decisionSeconds *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	giveUps         *prometheus.CounterVec
	stabilize       *prometheus.GaugeVec
	converged       *prometheus.GaugeVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs by outcome.",
		}, []string{"mode", "outcome"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		addressChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_changes_total",
			Help:      "Runs that published a new address.",
		}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Dispatched tool calls by tool and status.",
		}, []string{"tool", "status"}),
		toolSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_seconds",
			Help:      "Tool execution time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"tool"}),
		decisionSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_call_seconds",
			Help:      "Decision service call latency, retries included.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_retries_total",
			Help:      "Retried decision service calls by error class.",
		}, []string{"class"}),
		giveUps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_giveups_total",
			Help:      "Decision service calls abandoned by error class.",
		}, []string{"class"}),
		stabilize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stabilize_attempts",
			Help:      "Resolution attempts used by the last stabilization.",
		}, []string{"hostname"}),
		converged: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stabilize_converged",
			Help:      "1 when the last stabilization converged.",
		}, []string{"hostname"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveDispatch has the shape of tool.DispatchHook.
func (c *Collector) ObserveDispatch(name, status string, elapsed time.Duration) {
	c.toolCalls.WithLabelValues(name, status).Inc()
	c.toolSeconds.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveDecision(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.decisionSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveRetry(ev provider.RetryEvent) {
	c.retries.WithLabelValues(ev.Class.String()).Inc()
}

func (c *Collector) ObserveGiveUp(class provider.Class) {
	c.giveUps.WithLabelValues(class.String()).Inc()
}

// ObserveRun records a finished run. changed reports whether a new address
// was published.
func (c *Collector) ObserveRun(mode, outcome string, changed bool, finished time.Time) {
	c.runs.WithLabelValues(mode, outcome).Inc()
	if changed {
		c.addressChanges.Inc()
	}
	c.lastRun.Set(float64(finished.Unix()))
}

func (c *Collector) ObserveStabilization(host string, out domain.StabilizationOutcome) {
	c.stabilize.WithLabelValues(host).Set(float64(out.Attempts))
	v := 0.0
	if out.Converged {
		v = 1
	}
	c.converged.WithLabelValues(host).Set(v)
}

// WriteTextfile atomically writes the registry in the Prometheus text format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// Stabilizer is the stabilization contract shared by dns and the tools.
type Stabilizer interface {
	Stabilize(ctx context.Context, host string, requiredMatches int, delay time.Duration) domain.StabilizationOutcome
}

type instrumentedStabilizer struct {
	next Stabilizer
	c    *Collector
}

// InstrumentStabilizer records every outcome of next.
func (c *Collector) InstrumentStabilizer(next Stabilizer) Stabilizer {
	return &instrumentedStabilizer{next: next, c: c}
}

func (s *instrumentedStabilizer) Stabilize(ctx context.Context, host string, requiredMatches int, delay time.Duration) domain.StabilizationOutcome {
	out := s.next.Stabilize(ctx, host, requiredMatches, delay)
	s.c.ObserveStabilization(host, out)
	return out
}
