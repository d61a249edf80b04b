// README: Prometheus collectors shared by the booking core, notifications and HTTP layer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bidride"

var (
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_created_total", Help: "Bookings created"})
	OffersSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_submitted_total", Help: "Offers submitted or replaced"})

	// AcceptTotal is labelled by outcome: won, conflict or error.
	AcceptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "accept_total", Help: "Offer acceptance attempts by outcome"},
		[]string{"outcome"},
	)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Applied booking status transitions"},
		[]string{"to"},
	)
	RatingsSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ratings_submitted_total", Help: "Ratings recorded"})

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification deliveries by kind and result"},
		[]string{"kind", "result"},
	)
	NotificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "notification_queue_depth", Help: "Queued notification intents"})

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Drivers that reported presence since start"})

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
