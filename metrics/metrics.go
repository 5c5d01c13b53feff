// Package metrics exposes Prometheus collectors reporting task, event and
// responder activity. All methods are nil-safe so components can run
// without metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentrelay"

// Metrics bundles the collectors.
type Metrics struct {
	tasks            *prometheus.CounterVec
	events           *prometheus.CounterVec
	responder        *prometheus.HistogramVec
	tasksActive      prometheus.Gauge
	clarifications   *prometheus.CounterVec
	cancelRequests   *prometheus.CounterVec
	prunedTasksTotal prometheus.Counter
}

// MustNew registers the collectors with reg (the default registerer when
// nil). Collectors already registered under the same name are reused, so
// several orchestrators can share one registry. Other registration errors
// panic, mirroring the promauto helpers.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal state, by state.",
		}, []string{"state"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted to callers, by kind.",
		}, []string{"kind"}),
		responder: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "responder_duration_seconds",
			Help:      "Latency of Responder calls by execution path and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "status"}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Execute calls currently in flight.",
		}),
		clarifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clarifications_total",
			Help:      "Clarification flow steps, by action.",
		}, []string{"action"}),
		cancelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancel_requests_total",
			Help:      "Cancel calls, by resulting event kind.",
		}, []string{"result"}),
		prunedTasksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_tasks_total",
			Help:      "Terminal tasks removed by retention.",
		}),
	}

	m.tasks = register(reg, m.tasks)
	m.events = register(reg, m.events)
	m.responder = register(reg, m.responder)
	m.tasksActive = register(reg, m.tasksActive)
	m.clarifications = register(reg, m.clarifications)
	m.cancelRequests = register(reg, m.cancelRequests)
	m.prunedTasksTotal = register(reg, m.prunedTasksTotal)

	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// IncTask counts a task reaching a terminal state.
func (m *Metrics) IncTask(state string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(state).Inc()
}

// IncEvent counts an emitted event.
func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// ObserveResponder records the latency of a Responder call.
func (m *Metrics) ObserveResponder(path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.responder.WithLabelValues(path, status).Observe(d.Seconds())
}

// IncActive marks an Execute call as in flight.
func (m *Metrics) IncActive() {
	if m == nil {
		return
	}
	m.tasksActive.Inc()
}

// DecActive marks an Execute call as finished.
func (m *Metrics) DecActive() {
	if m == nil {
		return
	}
	m.tasksActive.Dec()
}

// IncClarification counts a clarification flow step.
func (m *Metrics) IncClarification(action string) {
	if m == nil {
		return
	}
	m.clarifications.WithLabelValues(action).Inc()
}

// IncCancel counts a Cancel call by its resulting event kind.
func (m *Metrics) IncCancel(result string) {
	if m == nil {
		return
	}
	m.cancelRequests.WithLabelValues(result).Inc()
}

// AddPruned counts tasks removed by retention.
func (m *Metrics) AddPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.prunedTasksTotal.Add(float64(n))
}
