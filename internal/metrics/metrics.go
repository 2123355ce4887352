package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stone_actions_total",
			Help: "Total number of economy actions by action and outcome.",
		},
		[]string{"action", "status"},
	)

	StonesMinedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stone_stones_mined_total",
			Help: "Total stones credited to players by source.",
		},
		[]string{"source"},
	)

	CommissionPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stone_referral_commission_total",
		Help: "Total stones paid to referrers as commission.",
	})

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stone_cache_flushes_total",
			Help: "Total write-back cache flushes by status.",
		},
		[]string{"status"},
	)

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stone_cache_flush_duration_seconds",
		Help:    "Duration of write-back cache flushes.",
		Buckets: prometheus.DefBuckets,
	})

	CachedPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stone_cached_players",
		Help: "Number of player snapshots held in the write-back cache.",
	})

	ReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stone_reconciled_players_total",
			Help: "Total players processed by the reconciler by status.",
		},
		[]string{"status"},
	)

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stone_websocket_clients",
		Help: "Number of live websocket clients.",
	})

	DroppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stone_websocket_dropped_events_total",
		Help: "Total live events dropped because a client queue was full.",
	})
)

// ObserveAction counts an action outcome
func ObserveAction(action, status string) {
	ActionsTotal.WithLabelValues(action, status).Inc()
}
