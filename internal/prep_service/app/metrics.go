package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	campaignsPreparedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "communicator",
			Subsystem: "prep",
			Name:      "campaigns_prepared_total",
			Help:      "Total number of campaigns run through recipient preparation.",
		},
		[]string{"outcome"}, // prepared | empty | failed | access_denied | canceled
	)
	recipientsResolvedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "communicator",
			Subsystem: "prep",
			Name:      "recipients_resolved_total",
			Help:      "Total recipients resolved across all campaigns.",
		},
	)
	preparationDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "communicator",
			Subsystem: "prep",
			Name:      "preparation_duration_seconds",
			Help:      "Duration of the resolve+batch+install phase per campaign.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	appInstallsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "communicator",
			Subsystem: "prep",
			Name:      "app_installs_total",
			Help:      "App installation attempts for new users.",
		},
		[]string{"outcome"}, // installed | failed
	)
)
