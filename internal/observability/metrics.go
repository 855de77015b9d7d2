package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "farum"

// TurnMetrics holds the Prometheus collectors for the turn pipeline.
// A nil *TurnMetrics is valid and records nothing.
type TurnMetrics struct {
	// TurnsTotal counts committed or aborted turns.
	// Labels: entry (start, turn), path (normal, crisis, deflection, fallback, error)
	TurnsTotal *prometheus.CounterVec

	// StageDuration measures each pipeline stage.
	// Labels: stage (crisis, relevance, intake, select, respond, synthesize)
	StageDuration *prometheus.HistogramVec

	// GateFailuresTotal counts classification failures and the policy applied.
	// Labels: gate (crisis, relevance), policy (fail_open, fail_closed)
	GateFailuresTotal *prometheus.CounterVec

	// SelectorTierTotal counts which parsing tier produced the techniques.
	// Labels: tier (structured, heuristic, none)
	SelectorTierTotal *prometheus.CounterVec

	// ResponderFailuresTotal counts responder errors absorbed into the reply.
	// Labels: technique
	ResponderFailuresTotal *prometheus.CounterVec
}

// NewTurnMetrics creates and registers the collectors on reg.
func NewTurnMetrics(reg prometheus.Registerer) *TurnMetrics {
	f := promauto.With(reg)
	return &TurnMetrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "turn",
				Name:      "total",
				Help:      "Turns processed by entry point and pipeline path",
			},
			[]string{"entry", "path"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "turn",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each turn pipeline stage",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		GateFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "gate",
				Name:      "failures_total",
				Help:      "Classification gate failures by gate and applied policy",
			},
			[]string{"gate", "policy"},
		),
		SelectorTierTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "selector",
				Name:      "tier_total",
				Help:      "Technique selector results by parsing tier",
			},
			[]string{"tier"},
		),
		ResponderFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "responder",
				Name:      "failures_total",
				Help:      "Responder failures absorbed into the reply",
			},
			[]string{"technique"},
		),
	}
}

func (m *TurnMetrics) ObserveTurn(entry, path string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(entry, path).Inc()
}

func (m *TurnMetrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *TurnMetrics) GateFailure(gate, policy string) {
	if m == nil {
		return
	}
	m.GateFailuresTotal.WithLabelValues(gate, policy).Inc()
}

func (m *TurnMetrics) SelectorTier(tier string) {
	if m == nil {
		return
	}
	m.SelectorTierTotal.WithLabelValues(tier).Inc()
}

func (m *TurnMetrics) ResponderFailure(technique string) {
	if m == nil {
		return
	}
	m.ResponderFailuresTotal.WithLabelValues(technique).Inc()
}
