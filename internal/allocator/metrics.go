package allocator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shinji-kodama/portlock/internal/model"
)

const (
	resultSuccess      = "success"
	resultConflict     = "conflict"
	resultNoFreePort   = "no_free_port"
	resultInvalidRange = "invalid_range"
	resultError        = "error"
)

// Metrics counts allocation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	allocations *prometheus.CounterVec
	conflicts   prometheus.Counter
	backoff     prometheus.Counter
	releases    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// Pass a fresh prometheus.NewRegistry() per process; the default registry
// would also export Go runtime metrics nobody scrapes from a CLI.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portlock_allocations_total",
			Help: "Port allocation calls by outcome",
		}, []string{"result"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portlock_lock_conflicts_total",
			Help: "Lock files found already held during acquisition",
		}),
		backoff: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portlock_backoff_seconds_total",
			Help: "Time spent sleeping between retry rounds",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portlock_releases_total",
			Help: "Locks released by their owner",
		}),
	}
	reg.MustRegister(m.allocations, m.conflicts, m.backoff, m.releases)
	return m
}

func (m *Metrics) observeResult(result string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(result).Inc()
}

func (m *Metrics) observeFindError(err error) {
	if errors.Is(err, model.ErrNoFreePort) {
		m.observeResult(resultNoFreePort)
		return
	}
	m.observeResult(resultError)
}

func (m *Metrics) observeConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) observeBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.backoff.Add(d.Seconds())
}

func (m *Metrics) observeRelease() {
	if m == nil {
		return
	}
	m.releases.Inc()
}
