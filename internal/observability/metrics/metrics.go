// Package metrics exports job and actuator activity as Prometheus metrics.
// Everything is registered on a private registry so tests and multiple
// instances never collide on the global one.
package metrics

import (
	"context"
	"net/http"

	"pifan/internal/actuator"
	"pifan/internal/eventbus"
	"pifan/internal/task/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pifan"

// Outcome label values of pifan_job_runs_total.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeDropped = "dropped"
)

type Metrics struct {
	reg *prometheus.Registry

	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueDelay prometheus.Histogram
	inFlight   *prometheus.GaugeVec

	state   *prometheus.GaugeVec
	changes *prometheus.CounterVec

	ch          <-chan eventbus.Event
	unsubscribe func()
}

// New builds the collectors and, when bus is non-nil, subscribes to it.
// Run consumes the subscription.
func New(bus eventbus.Bus) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job executions by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of completed job runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		queueDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_queue_delay_seconds",
			Help:      "Time between submission and start of a run.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_running",
			Help:      "1 while a run of the job is executing.",
		}, []string{"job"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_state",
			Help:      "Output state: 1 on, 0 off, -1 unknown.",
		}, []string{"actuator"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_changes_total",
			Help:      "Output state transitions.",
		}, []string{"actuator", "state"}),
	}
	m.reg.MustRegister(
		m.runs, m.duration, m.queueDelay, m.inFlight, m.state, m.changes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if bus != nil {
		m.ch, m.unsubscribe = bus.Subscribe(256)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchPool exports the live queue and worker gauges of a pool.
func (m *Metrics) WatchPool(snapshot func() engine.Snapshot) {
	gauge := func(name, help string, v func(engine.Snapshot) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v(snapshot())) })
	}
	m.reg.MustRegister(
		gauge("workers", "Configured worker goroutines.", func(s engine.Snapshot) int { return s.Workers }),
		gauge("queue_length", "Tasks waiting for a worker.", func(s engine.Snapshot) int { return s.QueueLen }),
		gauge("in_flight", "Tasks queued or executing.", func(s engine.Snapshot) int { return s.InFlight }),
	)
}

// Run applies bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context) error {
	if m.ch == nil {
		<-ctx.Done()
		return nil
	}
	defer m.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-m.ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe updates the collectors for one event. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.ActuatorChanged:
		ev, ok := e.Data.(actuator.StateEvent)
		if !ok {
			return
		}
		m.state.WithLabelValues(ev.Description).Set(stateValue(ev.State))
		m.changes.WithLabelValues(ev.Description, ev.State).Inc()
		return
	}

	ev, ok := e.Data.(engine.JobEvent)
	if !ok {
		return
	}
	switch e.Type {
	case eventbus.JobStarted:
		m.inFlight.WithLabelValues(ev.Name).Set(1)
		m.queueDelay.Observe(ev.QueueDelay.Seconds())
	case eventbus.JobFinished:
		m.finish(ev, OutcomeSuccess)
	case eventbus.JobFailed:
		m.finish(ev, OutcomeFailure)
	case eventbus.JobSkipped:
		m.runs.WithLabelValues(ev.Name, OutcomeSkipped).Inc()
	case eventbus.JobDropped:
		m.runs.WithLabelValues(ev.Name, OutcomeDropped).Inc()
	}
}

func (m *Metrics) finish(ev engine.JobEvent, outcome string) {
	m.inFlight.WithLabelValues(ev.Name).Set(0)
	m.runs.WithLabelValues(ev.Name, outcome).Inc()
	m.duration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
}

func stateValue(s string) float64 {
	switch s {
	case actuator.StateOn.String():
		return 1
	case actuator.StateOff.String():
		return 0
	}
	return -1
}
