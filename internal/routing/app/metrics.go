package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inboundRoutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_inbound_routed_total",
		Help: "Inbound messages by routing decision.",
	}, []string{"route"})

	ownerFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_owner_fallback_total",
		Help: "Owner-inbox fallbacks by reason.",
	}, []string{"reason"})

	blockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_blocked_total",
		Help: "Messages blocked by the anti-poaching engine.",
	})

	resolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_resolution_duration_seconds",
		Help:    "Time spent resolving one inbound message.",
		Buckets: prometheus.DefBuckets,
	})
)
