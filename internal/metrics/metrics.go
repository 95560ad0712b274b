// Package metrics exposes Prometheus collectors for the simulator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/coffee-machine/internal/machine"
	"github.com/sweeney/coffee-machine/internal/sim"
)

const namespace = "coffee"

// Metrics implements sim.Recorder and instruments HTTP and observers.
type Metrics struct {
	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	ticks         prometheus.Counter
	cups          prometheus.Counter
	temperature   prometheus.Gauge
	waterFlow     prometheus.Gauge
	poweredOn     prometheus.Gauge
	observers     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight *prometheus.GaugeVec

	seen     bool
	lastCups int
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim", Name: "tasks_started_total",
			Help: "Tasks started, by kind",
		}, []string{"kind"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim", Name: "tasks_finished_total",
			Help: "Tasks finished, by kind and outcome",
		}, []string{"kind", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sim", Name: "task_duration_seconds",
			Help:    "Task run time in seconds",
			Buckets: []float64{1, 5, 15, 30, 45, 60, 90, 120, 180},
		}, []string{"kind"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim", Name: "snapshots_total",
			Help: "Snapshots produced by the supervisor",
		}),
		cups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "machine", Name: "cups_brewed_total",
			Help: "Cups brewed since start",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "machine", Name: "temperature_celsius",
			Help: "Current boiler temperature",
		}),
		waterFlow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "machine", Name: "water_flow_ml_per_second",
			Help: "Current water flow",
		}),
		poweredOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "machine", Name: "powered_on",
			Help: "1 while the machine is powered on",
		}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "observers",
			Help: "Connected observers",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		httpInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "In-flight HTTP requests",
		}, []string{"path"}),
	}
	reg.MustRegister(
		m.tasksStarted, m.tasksFinished, m.taskDuration, m.ticks, m.cups,
		m.temperature, m.waterFlow, m.poweredOn, m.observers,
		m.httpRequests, m.httpDuration, m.httpInflight,
	)
	return m
}

var _ sim.Recorder = (*Metrics)(nil)

func (m *Metrics) TaskStarted(kind sim.Kind) {
	m.tasksStarted.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) TaskFinished(kind sim.Kind, outcome sim.Outcome, elapsed time.Duration) {
	m.tasksFinished.WithLabelValues(string(kind), string(outcome)).Inc()
	m.taskDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// TickApplied updates the machine gauges. The supervisor serializes calls.
func (m *Metrics) TickApplied(s machine.Snapshot) {
	m.ticks.Inc()
	m.temperature.Set(s.Temperature)
	m.waterFlow.Set(float64(s.WaterFlow))
	if s.PoweredOn {
		m.poweredOn.Set(1)
	} else {
		m.poweredOn.Set(0)
	}
	if d := s.CupsSinceFilled - m.lastCups; m.seen && d > 0 {
		m.cups.Add(float64(d))
	}
	m.seen = true
	m.lastCups = s.CupsSinceFilled
}

// SetObservers records the observer count.
func (m *Metrics) SetObservers(n int) {
	m.observers.Set(float64(n))
}
