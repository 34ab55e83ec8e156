// Package metrics exposes Prometheus instrumentation for the evm, store,
// and trace engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace    = "netcore"
	subsystemEVM = "evm"
	subsystemSTR = "store"
	subsystemTRC = "trace"
)

// Label names.
const (
	labelEventType = "event_type"
	labelShard     = "shard"
	labelStatus    = "status"
)

// Collector holds every Prometheus metric netcored registers. Metrics are
// grouped by the engine that updates them.
type Collector struct {
	// evm

	// SessionsActive tracks currently running sessions.
	SessionsActive prometheus.Gauge
	// ListenersRegistered tracks currently registered listeners, by event type.
	ListenersRegistered *prometheus.GaugeVec
	// EventsDispatched counts events run through listener dispatch, by event type.
	EventsDispatched *prometheus.CounterVec
	// MaintenanceSweeps counts completed maintenance sweeps.
	MaintenanceSweeps prometheus.Counter

	// store

	// NodesActive tracks live (non-tombstoned) trie nodes, by shard.
	NodesActive *prometheus.GaugeVec
	// EntriesPruned counts entries reclaimed by TTL-based pruning, by shard.
	EntriesPruned *prometheus.CounterVec
	// InsertOps counts insert attempts, by outcome status.
	InsertOps *prometheus.CounterVec

	// trace

	// TracesActive tracks traces with at least one probe in flight.
	TracesActive prometheus.Gauge
	// ProbesSent counts UDP probes transmitted.
	ProbesSent prometheus.Counter
	// HopsResolved counts ICMP TIME_EXCEEDED replies successfully attributed
	// to a hop.
	HopsResolved prometheus.Counter
	// TracesFinished counts completed traces, by terminal status.
	TracesFinished *prometheus.CounterVec
}

// NewCollector creates a Collector with every metric registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.SessionsActive,
		c.ListenersRegistered,
		c.EventsDispatched,
		c.MaintenanceSweeps,
		c.NodesActive,
		c.EntriesPruned,
		c.InsertOps,
		c.TracesActive,
		c.ProbesSent,
		c.HopsResolved,
		c.TracesFinished,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemEVM,
			Name:      "sessions_active",
			Help:      "Number of currently running event sessions.",
		}),

		ListenersRegistered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemEVM,
			Name:      "listeners_registered",
			Help:      "Number of currently registered listeners.",
		}, []string{labelEventType}),

		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEVM,
			Name:      "events_dispatched_total",
			Help:      "Total events run through listener dispatch.",
		}, []string{labelEventType}),

		MaintenanceSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEVM,
			Name:      "maintenance_sweeps_total",
			Help:      "Total completed listener maintenance sweeps.",
		}),

		NodesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSTR,
			Name:      "nodes_active",
			Help:      "Number of live trie nodes.",
		}, []string{labelShard}),

		EntriesPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSTR,
			Name:      "entries_pruned_total",
			Help:      "Total entries reclaimed by TTL-based pruning.",
		}, []string{labelShard}),

		InsertOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSTR,
			Name:      "insert_ops_total",
			Help:      "Total insert attempts, by outcome.",
		}, []string{labelStatus}),

		TracesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemTRC,
			Name:      "traces_active",
			Help:      "Number of traces with at least one probe in flight.",
		}),

		ProbesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTRC,
			Name:      "probes_sent_total",
			Help:      "Total UDP probes transmitted.",
		}),

		HopsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTRC,
			Name:      "hops_resolved_total",
			Help:      "Total ICMP TIME_EXCEEDED replies attributed to a hop.",
		}),

		TracesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTRC,
			Name:      "traces_finished_total",
			Help:      "Total completed traces, by terminal status.",
		}, []string{labelStatus}),
	}
}

// -------------------------------------------------------------------------
// evm
// -------------------------------------------------------------------------

// SessionStarted increments the active session gauge.
func (c *Collector) SessionStarted() { c.SessionsActive.Inc() }

// SessionEnded decrements the active session gauge.
func (c *Collector) SessionEnded() { c.SessionsActive.Dec() }

// ListenerRegistered increments the listener gauge for eventType.
func (c *Collector) ListenerRegistered(eventType string) {
	c.ListenersRegistered.WithLabelValues(eventType).Inc()
}

// ListenerRemoved decrements the listener gauge for eventType.
func (c *Collector) ListenerRemoved(eventType string) {
	c.ListenersRegistered.WithLabelValues(eventType).Dec()
}

// EventDispatched increments the dispatch counter for eventType.
func (c *Collector) EventDispatched(eventType string) {
	c.EventsDispatched.WithLabelValues(eventType).Inc()
}

// MaintenanceSweepCompleted increments the maintenance sweep counter.
func (c *Collector) MaintenanceSweepCompleted() { c.MaintenanceSweeps.Inc() }

// -------------------------------------------------------------------------
// store
// -------------------------------------------------------------------------

// NodeInserted increments the live-node gauge for shard.
func (c *Collector) NodeInserted(shard string) { c.NodesActive.WithLabelValues(shard).Inc() }

// NodePruned decrements the live-node gauge for shard and increments the
// pruned-entries counter.
func (c *Collector) NodePruned(shard string) {
	c.NodesActive.WithLabelValues(shard).Dec()
	c.EntriesPruned.WithLabelValues(shard).Inc()
}

// InsertCompleted increments the insert-outcome counter for status (e.g.
// "ok", "duplicate", "full").
func (c *Collector) InsertCompleted(status string) { c.InsertOps.WithLabelValues(status).Inc() }

// -------------------------------------------------------------------------
// trace
// -------------------------------------------------------------------------

// TraceStarted increments the active-trace gauge.
func (c *Collector) TraceStarted() { c.TracesActive.Inc() }

// ProbeSent increments the probes-sent counter.
func (c *Collector) ProbeSent() { c.ProbesSent.Inc() }

// HopResolved increments the hops-resolved counter.
func (c *Collector) HopResolved() { c.HopsResolved.Inc() }

// TraceFinished decrements the active-trace gauge and increments the
// finished-trace counter for status.
func (c *Collector) TraceFinished(status string) {
	c.TracesActive.Dec()
	c.TracesFinished.WithLabelValues(status).Inc()
}
