// Package telemetry exposes engine counters through Prometheus. It is the
// concrete reasoning.Recorder used in production; tests run with NopRecorder.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maitre-labs/raison/internal/reasoning"
)

// Metrics implements reasoning.Recorder.
type Metrics struct {
	steps       *prometheus.CounterVec
	guardFails  *prometheus.CounterVec
	timeouts    prometheus.Counter
	escalations *prometheus.CounterVec
}

// New registers the engine metrics on the given registerer (nil means the
// default registry).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "raison_transitions_total",
			Help: "Successful state transitions by target state.",
		}, []string{"to_state"}),
		guardFails: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "raison_guard_failures_total",
			Help: "Step attempts rejected by a transition guard, by state.",
		}, []string{"state"}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "raison_inference_timeouts_total",
			Help: "Inference calls that exceeded their time budget.",
		}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "raison_escalations_total",
			Help: "Watchdog escalations by urgency band.",
		}, []string{"urgency"}),
	}
}

func (m *Metrics) StepSucceeded(to reasoning.State) {
	m.steps.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) GuardFailed(at reasoning.State) {
	m.guardFails.WithLabelValues(string(at)).Inc()
}

func (m *Metrics) InferenceTimedOut() {
	m.timeouts.Inc()
}

func (m *Metrics) Escalated(urgency string) {
	m.escalations.WithLabelValues(urgency).Inc()
}
