package booking

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	acquires   *prometheus.CounterVec
	releases   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Booking operations by outcome",
		}, []string{"operation", "outcome"}),
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_slot_acquire_total",
			Help: "Slot counter acquire attempts by result",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_slot_release_total",
			Help: "Slot counter releases by reason and result",
		}, []string{"reason", "result"}),
	}
	reg.MustRegister(m.operations, m.acquires, m.releases)
	return m
}

func (m *Metrics) operation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) acquire(result string) {
	if m == nil {
		return
	}
	m.acquires.WithLabelValues(result).Inc()
}

func (m *Metrics) release(reason, result string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(reason, result).Inc()
}

// outcome maps an operation error onto a low-cardinality label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacityConflict):
		return "conflict"
	case errors.Is(err, ErrFeatureRestricted):
		return "restricted"
	default:
		return "error"
	}
}
