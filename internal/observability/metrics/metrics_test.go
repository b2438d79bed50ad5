package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pifan/internal/actuator"
	"pifan/internal/eventbus"
	"pifan/internal/task/engine"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobEvent(typ, name string, d time.Duration) eventbus.Event {
	return eventbus.Event{Type: typ, Data: engine.JobEvent{Name: name, Duration: d, QueueDelay: time.Millisecond}}
}

func TestObserveJobs(t *testing.T) {
	m := New(nil)
	m.Observe(jobEvent(eventbus.JobStarted, "fanOn", 0))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight.WithLabelValues("fanOn")))

	m.Observe(jobEvent(eventbus.JobFinished, "fanOn", 20*time.Millisecond))
	m.Observe(jobEvent(eventbus.JobFailed, "fanOn", time.Second))
	m.Observe(jobEvent(eventbus.JobSkipped, "fanOn", 0))
	m.Observe(jobEvent(eventbus.JobDropped, "fanOff", 0))
	m.Observe(eventbus.Event{Type: eventbus.JobFinished, Data: "not a job event"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("fanOn", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("fanOn", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("fanOn", OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("fanOff", OutcomeDropped)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight.WithLabelValues("fanOn")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestObserveActuator(t *testing.T) {
	m := New(nil)
	m.Observe(eventbus.Event{Type: eventbus.ActuatorChanged, Data: actuator.StateEvent{Description: "Outlet", State: "on"}})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("Outlet")))
	m.Observe(eventbus.Event{Type: eventbus.ActuatorChanged, Data: actuator.StateEvent{Description: "Outlet", State: "off"}})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("Outlet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changes.WithLabelValues("Outlet", "on")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changes.WithLabelValues("Outlet", "off")))
}

func TestRunConsumesBus(t *testing.T) {
	bus := eventbus.New()
	m := New(bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	bus.Publish(jobEvent(eventbus.JobFinished, "fanOn", time.Millisecond))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.runs.WithLabelValues("fanOn", OutcomeSuccess)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestHandlerExposesPool(t *testing.T) {
	m := New(nil)
	m.WatchPool(func() engine.Snapshot { return engine.Snapshot{Workers: 5, QueueLen: 2, InFlight: 3} })
	m.Observe(jobEvent(eventbus.JobFinished, "fanOn", time.Millisecond))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	assert.Equal(t, 200, rec.Code)
	for _, want := range []string{
		"pifan_pool_workers 5",
		"pifan_pool_queue_length 2",
		"pifan_pool_in_flight 3",
		`pifan_job_runs_total{job="fanOn",outcome="success"} 1`,
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(text, want), "missing %q", want)
	}
}
