package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taxidispatch"

var (
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_requested_total", Help: "Rides created in PENDING"})
	RidesAssigned  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_assigned_total", Help: "Rides accepted by a driver"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_completed_total", Help: "Rides that reached COMPLETED"})
	RidesCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_cancelled_total", Help: "Cancelled rides by the role that cancelled them"},
		[]string{"by"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_latency_seconds",
		Help:      "Time from ride request to driver acceptance",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	})
	Offers = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_total", Help: "Ride offers by outcome"},
		[]string{"outcome"},
	)
	DriversByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "drivers", Help: "Registered drivers by state"},
		[]string{"state"},
	)
	DriversSwept = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "drivers_swept_total", Help: "Drivers taken offline for stale location"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_dropped_total", Help: "Events dropped on a full subscriber buffer"})
	Subscribers          = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "subscribers", Help: "Live fan-out subscriptions"})
	SinkFailures         = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sink_failures_total", Help: "Events a broker sink failed to publish"},
		[]string{"sink"},
	)
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "persistence_failures_total", Help: "Write-through failures by operation"},
		[]string{"op"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
