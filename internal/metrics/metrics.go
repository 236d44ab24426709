// Package metrics exposes controller measurements in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agsys/relay-controller/internal/events"
	"github.com/agsys/relay-controller/internal/relay"
	"github.com/agsys/relay-controller/internal/schedule"
)

const metricPrefix = "relayctl_"

// Metrics holds the controller collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	ticks         prometheus.Counter
	tickLatency   prometheus.Histogram
	triggers      *prometheus.CounterVec
	purged        prometheus.Counter
	malformed     prometheus.Counter
	relayState    *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	persistErrors prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "engine_ticks_total",
			Help: "Total schedule evaluations",
		}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "engine_tick_seconds",
			Help:    "Schedule evaluation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "schedule_triggers_total",
			Help: "Schedule events fired by relay and event",
		}, []string{"relay", "event"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "schedule_rules_purged_total",
			Help: "Rules removed because their relay no longer exists",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "schedule_rules_malformed_total",
			Help: "Evaluations skipped because a stored rule could not be parsed",
		}),
		relayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "relay_state",
			Help: "Relay state, 1 for On",
		}, []string{"relay"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "relay_transitions_total",
			Help: "Relay state changes by source",
		}, []string{"relay", "source"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "store_persist_errors_total",
			Help: "Failed writes of the schedule document",
		}),
	}

	m.registry.MustRegister(
		m.ticks, m.tickLatency, m.triggers, m.purged, m.malformed,
		m.relayState, m.transitions, m.persistErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TickObserved implements engine.Recorder
func (m *Metrics) TickObserved(d time.Duration) {
	m.ticks.Inc()
	m.tickLatency.Observe(d.Seconds())
}

// Triggered implements engine.Recorder
func (m *Metrics) Triggered(relayID string, ev schedule.Event) {
	m.triggers.WithLabelValues(relayID, string(ev)).Inc()
}

// Purged implements engine.Recorder
func (m *Metrics) Purged(string) { m.purged.Inc() }

// Malformed implements engine.Recorder
func (m *Metrics) Malformed(string) { m.malformed.Inc() }

// PersistError counts a failed schedule write
func (m *Metrics) PersistError(error) { m.persistErrors.Inc() }

// SetStates initializes the state gauge for every relay
func (m *Metrics) SetStates(states map[string]relay.State) {
	for id, st := range states {
		m.relayState.WithLabelValues(id).Set(gaugeValue(st))
	}
}

// HandleEvent implements events.Sink
func (m *Metrics) HandleEvent(ev events.Event) error {
	if p, ok := ev.Payload.(*events.RelayPayload); ok {
		m.relayState.WithLabelValues(p.RelayID).Set(gaugeValue(p.To))
		m.transitions.WithLabelValues(p.RelayID, string(p.Source)).Inc()
	}
	return nil
}

func gaugeValue(s relay.State) float64 {
	if s == relay.On {
		return 1
	}
	return 0
}
