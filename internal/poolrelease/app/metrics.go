package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_pool_release_sweeps_total",
		Help: "Pool release sweep runs.",
	})

	releasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_pool_numbers_released_total",
		Help: "Pool numbers released, by trigger.",
	}, []string{"trigger"})
)
