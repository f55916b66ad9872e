package httpapi

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"governor/internal/execution"
)

// Metrics, per SPEC_FULL §C9: these are ambient observability, never
// gated by spec.md's Non-goals (which name only ERP/WMS connectors and
// schema migrations out of scope).
var (
	admissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_admission_total",
		Help: "Requests handled by the admission pipeline, by outcome effect.",
	}, []string{"effect"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "governor_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by method and outcome effect.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "effect"})

	guardrailBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_guardrail_block_total",
		Help: "Execution pipeline guardrail blocks, by action_type.",
	}, []string{"action_type"})

	idempotencyReplayTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_idempotency_replay_total",
		Help: "Idempotency-Key replays served from the stored response.",
	})

	idempotencyConflictTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_idempotency_conflict_total",
		Help: "Idempotency-Key reuses with a conflicting request payload.",
	})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_circuit_state",
		Help: "Connector circuit breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"connector"})
)

// observeCircuitStates snapshots connectors' circuit breaker states into
// the governor_circuit_state gauge.
func observeCircuitStates(connectors *execution.ConnectorRegistry) {
	for name, state := range connectors.States() {
		circuitState.WithLabelValues(name).Set(float64(state))
	}
}

// RunCircuitStateObserver polls connector circuit breaker states into the
// governor_circuit_state gauge until ctx is canceled, mirroring the
// teacher's cleanup-worker ticker loop convention.
func RunCircuitStateObserver(ctx context.Context, connectors *execution.ConnectorRegistry) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	observeCircuitStates(connectors)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observeCircuitStates(connectors)
		}
	}
}
