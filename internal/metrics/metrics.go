package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletwatch"

// Delivery outcomes.
const (
	OutcomeDelivered  = "delivered"
	OutcomeFailed     = "failed"
	OutcomeNoOwner    = "no_owner"
	OutcomeDuplicate  = "duplicate"
	OutcomeUnresolved = "unresolved"
)

// Metrics holds every collector on its own registry, so several pools can
// coexist in one process (and in tests).
type Metrics struct {
	registry *prometheus.Registry

	connections       *prometheus.GaugeVec
	boundWallets      prometheus.Gauge
	watchedAddresses  prometheus.Gauge
	reconnectAttempts prometheus.Counter
	reconnects        prometheus.Counter
	redistributed     prometheus.Counter
	droppedWallets    *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	queueDrops        prometheus.Counter
	journalBatch      prometheus.Histogram
	journalErrors     prometheus.Counter
}

// New creates a Metrics with a fresh registry. Go runtime and process
// collectors are registered alongside.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Streaming connections by transport state.",
		}, []string{"state"}),
		boundWallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bound_wallets",
			Help:      "Wallet addresses currently bound to a connection.",
		}),
		watchedAddresses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_addresses",
			Help:      "Addresses with at least one subscriber.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnection attempts.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful reconnections.",
		}),
		redistributed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redistributed_wallets_total",
			Help:      "Wallets moved off a connection that exhausted its retries.",
		}),
		droppedWallets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_wallets_total",
			Help:      "Wallets left unbound, by reason.",
		}, []string{"reason"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound frames that were malformed, unknown or error replies.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification handling by outcome.",
		}, []string{"outcome"}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_drops_total",
			Help:      "Notifications dropped because the dispatch queue was full.",
		}),
		journalBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "journal_batch_size",
			Help:      "Rows per journal batch insert.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		journalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Failed journal batch inserts.",
		}),
	}

	m.registry.MustRegister(
		m.connections,
		m.boundWallets,
		m.watchedAddresses,
		m.reconnectAttempts,
		m.reconnects,
		m.redistributed,
		m.droppedWallets,
		m.protocolErrors,
		m.notifications,
		m.queueDrops,
		m.journalBatch,
		m.journalErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize so they appear immediately in /metrics
	for _, s := range []string{"CONNECTING", "OPEN", "CLOSING", "CLOSED"} {
		m.connections.WithLabelValues(s).Set(0)
	}

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetConnections replaces the per-state connection gauges.
func (m *Metrics) SetConnections(byState map[string]int) {
	if m == nil {
		return
	}
	m.connections.Reset()
	for _, s := range []string{"CONNECTING", "OPEN", "CLOSING", "CLOSED"} {
		m.connections.WithLabelValues(s).Set(float64(byState[s]))
	}
}

func (m *Metrics) SetBoundWallets(n int) {
	if m == nil {
		return
	}
	m.boundWallets.Set(float64(n))
}

func (m *Metrics) SetWatchedAddresses(n int) {
	if m == nil {
		return
	}
	m.watchedAddresses.Set(float64(n))
}

func (m *Metrics) IncReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) IncRedistributed() {
	if m == nil {
		return
	}
	m.redistributed.Inc()
}

// IncDropped counts a wallet that ended up unbound. reason is one of
// "capacity", "dial", "resubscribe" or "rejected".
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedWallets.WithLabelValues(reason).Inc()
}

// IncProtocolError counts a bad inbound frame. kind is "malformed", "unknown" or "error_reply".
func (m *Metrics) IncProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

func (m *Metrics) ObserveJournalBatch(n int) {
	if m == nil {
		return
	}
	m.journalBatch.Observe(float64(n))
}

func (m *Metrics) IncJournalError() {
	if m == nil {
		return
	}
	m.journalErrors.Inc()
}
