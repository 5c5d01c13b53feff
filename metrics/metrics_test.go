package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.IncTask("completed")
	m.IncTask("completed")
	m.IncEvent("started")
	m.IncActive()
	m.IncActive()
	m.DecActive()
	m.IncClarification("ask")
	m.IncCancel("cancel_acknowledged")
	m.AddPruned(3)
	m.AddPruned(0)
	m.ObserveResponder("short", "ok", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clarifications.WithLabelValues("ask")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancelRequests.WithLabelValues("cancel_acknowledged")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.prunedTasksTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.responder))
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second := MustNew(reg)

	first.IncEvent("message")
	second.IncEvent("message")

	assert.Equal(t, 2.0, testutil.ToFloat64(second.events.WithLabelValues("message")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncTask("failed")
		m.IncEvent("error")
		m.ObserveResponder("long", "error", time.Second)
		m.IncActive()
		m.DecActive()
		m.IncClarification("abort")
		m.IncCancel("not_found")
		m.AddPruned(1)
	})
}
