package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Session flows (refresh / create / decrypt / update)
	// ============================================
	FlowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securepeak_flow_total",
			Help: "Total number of flow invocations by outcome",
		},
		[]string{"flow", "outcome"},
	)

	FlowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securepeak_flow_duration_seconds",
			Help:    "Flow duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"flow"},
	)

	FlowInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "securepeak_flow_in_flight",
			Help: "Whether a flow is currently running (1=running, 0=idle)",
		},
		[]string{"flow"},
	)

	RecordsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "securepeak_records",
		Help: "Number of records in the last committed refresh",
	})

	RecordsDecrypted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "securepeak_records_decrypted",
		Help: "Number of records with a decrypted view in the session",
	})

	// ============================================
	// Events and publishing
	// ============================================
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securepeak_events_received_total",
			Help: "Total number of contract events decoded",
		},
		[]string{"event_type"},
	)

	EventsForwardFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securepeak_events_forward_failed_total",
			Help: "Total number of contract events that could not be forwarded",
		},
		[]string{"event_type"},
	)

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "securepeak_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	ReadingsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securepeak_readings_published_total",
			Help: "Total number of decrypted readings published",
		},
		[]string{"target"},
	)
)
