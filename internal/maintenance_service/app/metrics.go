package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scheduledFiredCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "communicator_scheduled_campaigns_fired_total",
		Help: "Total number of scheduled campaigns handed to the prep pipeline.",
	})

	campaignsCleanedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "communicator_campaigns_cleaned_total",
		Help: "Total number of terminal campaigns removed by retention cleanup.",
	})
)
