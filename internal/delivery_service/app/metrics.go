package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesDeliveredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "communicator",
			Subsystem: "delivery",
			Name:      "messages_total",
			Help:      "Recipients reaching a terminal delivery status.",
		},
		[]string{"status"}, // sent | failed | unknown | skipped
	)
	sendDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "communicator",
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Duration of individual transport send attempts.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	// Throttling is expected and recoverable: a metric, not an error log.
	throttleEventsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "communicator",
			Subsystem: "delivery",
			Name:      "throttle_events_total",
			Help:      "Transport throttle responses observed.",
		},
	)
	claimConflictsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "communicator",
			Subsystem: "delivery",
			Name:      "claim_conflicts_total",
			Help:      "Progress-row claims lost to another worker.",
		},
	)
	campaignsCompletedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "communicator",
			Subsystem: "delivery",
			Name:      "campaigns_completed_total",
			Help:      "Campaigns reaching a terminal status from delivery.",
		},
		[]string{"status"}, // sent | canceled
	)
)
