// Package metrics exposes Prometheus collectors for persona turns,
// delegation steps, protocol violations, completion attempts and snapshot
// operations. Collectors live on an explicit registry so several meshes (and
// tests) never collide on the global default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Completion outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeError     = "error"
)

// Recorder receives domain events. Components default to NoOp.
type Recorder interface {
	TurnFinished(persona string, dur time.Duration, err error)
	DelegationStep(from, to string)
	ProtocolViolation(persona string)
	CompletionAttempt(model, outcome string, dur time.Duration)
	SnapshotOperation(op string, err error)
}

// OrNoOp returns r, or NoOp when r is nil.
func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOp{}
	}
	return r
}

// NoOp discards every event.
type NoOp struct{}

// TurnFinished implements Recorder.
func (NoOp) TurnFinished(string, time.Duration, error) {}

// DelegationStep implements Recorder.
func (NoOp) DelegationStep(string, string) {}

// ProtocolViolation implements Recorder.
func (NoOp) ProtocolViolation(string) {}

// CompletionAttempt implements Recorder.
func (NoOp) CompletionAttempt(string, string, time.Duration) {}

// SnapshotOperation implements Recorder.
func (NoOp) SnapshotOperation(string, error) {}

// Prometheus records events into a set of collectors.
type Prometheus struct {
	registry *prometheus.Registry

	TurnsTotal         *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	DelegationSteps    *prometheus.CounterVec
	ProtocolViolations *prometheus.CounterVec
	CompletionAttempts *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	SnapshotOperations *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personas_turns_total",
				Help: "Total finished turns",
			},
			[]string{"persona", "outcome"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "personas_turn_duration_seconds",
				Help:    "Turn duration from inbound message to final answer",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"persona"},
		),
		DelegationSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personas_delegation_steps_total",
				Help: "Total messages routed from a coordinator to a sub-agent",
			},
			[]string{"from", "to"},
		),
		ProtocolViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personas_protocol_violations_total",
				Help: "Total coordinator outputs without a message block",
			},
			[]string{"persona"},
		),
		CompletionAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personas_completion_attempts_total",
				Help: "Total completion service calls",
			},
			[]string{"model", "outcome"},
		),
		CompletionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "personas_completion_duration_seconds",
				Help:    "Completion service latency",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		SnapshotOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personas_snapshot_operations_total",
				Help: "Total snapshot store operations",
			},
			[]string{"op", "outcome"},
		),
	}

	p.registry.MustRegister(
		p.TurnsTotal,
		p.TurnDuration,
		p.DelegationSteps,
		p.ProtocolViolations,
		p.CompletionAttempts,
		p.CompletionDuration,
		p.SnapshotOperations,
	)

	return p
}

// Registry returns the registry holding the collectors.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// TurnFinished implements Recorder.
func (p *Prometheus) TurnFinished(persona string, dur time.Duration, err error) {
	p.TurnsTotal.WithLabelValues(persona, outcome(err)).Inc()
	p.TurnDuration.WithLabelValues(persona).Observe(dur.Seconds())
}

// DelegationStep implements Recorder.
func (p *Prometheus) DelegationStep(from, to string) {
	p.DelegationSteps.WithLabelValues(from, to).Inc()
}

// ProtocolViolation implements Recorder.
func (p *Prometheus) ProtocolViolation(persona string) {
	p.ProtocolViolations.WithLabelValues(persona).Inc()
}

// CompletionAttempt implements Recorder.
func (p *Prometheus) CompletionAttempt(model, outcome string, dur time.Duration) {
	p.CompletionAttempts.WithLabelValues(model, outcome).Inc()
	p.CompletionDuration.WithLabelValues(model).Observe(dur.Seconds())
}

// SnapshotOperation implements Recorder.
func (p *Prometheus) SnapshotOperation(op string, err error) {
	p.SnapshotOperations.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
