package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the runtime reports.
type Metrics struct {
	// Event pipeline
	EventsPosted      *prometheus.CounterVec
	EventsDistributed prometheus.Counter
	EventsDelivered   prometheus.Counter
	EventsDropped     *prometheus.CounterVec
	EventsFreed       prometheus.Counter
	InboundQueueDepth prometheus.Gauge
	DistributeSeconds prometheus.Histogram
	HandlerSeconds    *prometheus.HistogramVec

	// Nanoapp lifecycle
	NanoappsLoaded       prometheus.Gauge
	NanoappsStarted      prometheus.Counter
	NanoappsUnloaded     prometheus.Counter
	NanoappStartFailures prometheus.Counter

	// Timer pool
	TimersArmed    prometheus.Gauge
	TimersFired    prometheus.Counter
	TimersCanceled prometheus.Counter

	// Request multiplexer / capability managers
	MaximalChanges       *prometheus.CounterVec
	TransitionQueueDepth *prometheus.GaugeVec

	// Host adapter
	HostMessagesRx *prometheus.CounterVec
	HostMessagesTx *prometheus.CounterVec
	HostReconnects prometheus.Counter
	HostConnected  prometheus.Gauge

	// System
	Uptime    prometheus.Gauge
	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds a cheap-to-read copy of frequently polled values, used by
// the admin API so handlers don't have to scrape Prometheus collectors.
type Snapshot struct {
	NanoappsLoaded    int `json:"nanoapps_loaded"`
	InboundQueueDepth int `json:"inbound_queue_depth"`
	TimersArmed       int `json:"timers_armed"`
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		EventsPosted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chre_events_posted_total",
				Help: "Events successfully pushed into the inbound queue.",
			},
			[]string{"sender_kind"},
		),
		EventsDistributed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_events_distributed_total",
			Help: "Events popped from the inbound queue and fanned out to nanoapp inboxes.",
		}),
		EventsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_events_delivered_total",
			Help: "Events handed to a nanoapp's handleEvent hook.",
		}),
		EventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chre_events_dropped_total",
				Help: "Events that found no recipient during distribution.",
			},
			[]string{"event_type"},
		),
		EventsFreed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_events_freed_total",
			Help: "Events whose free callback has run and that returned to the pool.",
		}),
		InboundQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chre_inbound_queue_depth",
			Help: "Current number of events waiting in the inbound queue.",
		}),
		DistributeSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chre_distribute_seconds",
			Help:    "Time spent fanning a single event out to subscribed nanoapp inboxes.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
		}),
		HandlerSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chre_handler_seconds",
				Help:    "Time spent inside a single nanoapp handleEvent invocation.",
				Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
			},
			[]string{"app_id"},
		),

		NanoappsLoaded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chre_nanoapps_loaded",
			Help: "Nanoapps currently loaded in the event loop.",
		}),
		NanoappsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_nanoapps_started_total",
			Help: "Nanoapps that completed start() successfully.",
		}),
		NanoappsUnloaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_nanoapps_unloaded_total",
			Help: "Nanoapps unloaded via the orderly unload sequence.",
		}),
		NanoappStartFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_nanoapp_start_failures_total",
			Help: "Nanoapps whose start() hook returned false.",
		}),

		TimersArmed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chre_timers_armed",
			Help: "Timers currently held in the timer pool.",
		}),
		TimersFired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_timers_fired_total",
			Help: "Timer expirations posted as events.",
		}),
		TimersCanceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_timers_canceled_total",
			Help: "Timers removed via cancelTimer or cancelAllForNanoapp.",
		}),

		MaximalChanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chre_multiplexer_maximal_changes_total",
				Help: "Mutations to a request multiplexer that changed its maximal element.",
			},
			[]string{"capability"},
		),
		TransitionQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chre_transition_queue_depth",
				Help: "Pending platform-configuration transitions per capability.",
			},
			[]string{"capability"},
		),

		HostMessagesRx: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chre_host_messages_received_total",
				Help: "Frames received from the host over the adapter socket.",
			},
			[]string{"tag"},
		),
		HostMessagesTx: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chre_host_messages_sent_total",
				Help: "Frames sent to the host over the adapter socket.",
			},
			[]string{"tag"},
		),
		HostReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chre_host_reconnects_total",
			Help: "Successful host socket reconnections.",
		}),
		HostConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chre_host_connected",
			Help: "1 if the host socket is currently connected, 0 otherwise.",
		}),

		Uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chre_uptime_seconds",
			Help: "Seconds since the runtime started.",
		}),
	}

	go m.trackUptime()
	return m
}

func (m *Metrics) trackUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// SetNanoappsLoaded updates both the gauge and the admin-facing snapshot.
func (m *Metrics) SetNanoappsLoaded(n int) {
	m.NanoappsLoaded.Set(float64(n))
	m.mu.Lock()
	m.snapshot.NanoappsLoaded = n
	m.mu.Unlock()
}

// SetInboundQueueDepth updates both the gauge and the admin-facing snapshot.
func (m *Metrics) SetInboundQueueDepth(n int) {
	m.InboundQueueDepth.Set(float64(n))
	m.mu.Lock()
	m.snapshot.InboundQueueDepth = n
	m.mu.Unlock()
}

// SetTimersArmed updates both the gauge and the admin-facing snapshot.
func (m *Metrics) SetTimersArmed(n int) {
	m.TimersArmed.Set(float64(n))
	m.mu.Lock()
	m.snapshot.TimersArmed = n
	m.mu.Unlock()
}

// Snapshot returns a copy of the cheap-to-read gauge values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// IncMaximalChanges records one request-multiplexer mutation that changed
// its maximal element, keyed by capability name. Satisfies
// manager.MaximalChangeRecorder without that package importing monitoring.
func (m *Metrics) IncMaximalChanges(capability string) {
	m.MaximalChanges.WithLabelValues(capability).Inc()
}
