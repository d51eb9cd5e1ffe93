package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the tracking engine.
var (
	LocationPingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_location_pings_total",
			Help: "Driver location pings by outcome (accepted, rejected, ignored, stale)",
		},
		[]string{"outcome"},
	)

	ETAComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_eta_computations_total",
			Help: "ETA computations by source (routing, fallback, unknown_destination)",
		},
		[]string{"source"},
	)

	RoutingRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracking_routing_request_duration_seconds",
			Help:    "Duration of distance-matrix requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_status_transitions_total",
			Help: "Delivery status transitions by target status and result",
		},
		[]string{"status", "result"},
	)

	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_broadcasts_total",
			Help: "Outbound events by event name",
		},
		[]string{"event"},
	)

	SendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_send_failures_total",
			Help: "Per-connection send failures by reason",
		},
		[]string{"reason"},
	)

	ActiveDeliveries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracking_active_deliveries",
			Help: "Snapshots currently held in the active delivery store",
		},
	)

	ConnectedSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracking_connected_sessions",
			Help: "Registered sessions by role",
		},
		[]string{"role"},
	)
)

// Register registers all Prometheus metrics.
func Register() {
	prometheus.MustRegister(LocationPingsTotal)
	prometheus.MustRegister(ETAComputationsTotal)
	prometheus.MustRegister(RoutingRequestDuration)
	prometheus.MustRegister(StatusTransitionsTotal)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(SendFailuresTotal)
	prometheus.MustRegister(ActiveDeliveries)
	prometheus.MustRegister(ConnectedSessions)
}
