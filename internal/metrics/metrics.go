package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are created at init so the core can record without a
// registry. Register exposes them.
var (
	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpath_votes_total",
			Help: "Vote attempts, by voter type and outcome.",
		},
		[]string{"voter_type", "outcome"},
	)

	SegmentsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpath_segments_appended_total",
			Help: "Segments appended, by kind (starter or regular).",
		},
		[]string{"kind"},
	)

	ReputationChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpath_reputation_changes_total",
			Help: "Reputation log entries written, by related type.",
		},
		[]string{"related_type"},
	)

	BotsSuspended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpath_bots_suspended_total",
			Help: "Bots moved to suspended status.",
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpath_cache_hits_total",
			Help: "Activity score cache hits.",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpath_cache_misses_total",
			Help: "Activity score cache misses, including disabled cache.",
		},
	)

	CacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpath_cache_errors_total",
			Help: "Cache backend errors absorbed, by operation.",
		},
		[]string{"op"},
	)

	ActivityRecalcDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkpath_activity_recalculation_duration_seconds",
			Help:    "Duration of activity score recomputation.",
			Buckets: prometheus.DefBuckets,
		},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpath_notifications_total",
			Help: "Domain events handed to the notifier, by result.",
		},
		[]string{"result"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpath_http_request_duration_seconds",
			Help:    "Ops HTTP request duration in seconds, by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkpath_http_requests_in_flight",
			Help: "Number of ops HTTP requests currently being served.",
		},
	)
)

// Register adds every collector to reg. When pool is non-nil, live pool
// gauges are registered as well.
func Register(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	collectors := []prometheus.Collector{
		VotesTotal,
		SegmentsAppended,
		ReputationChanges,
		BotsSuspended,
		CacheHits,
		CacheMisses,
		CacheErrors,
		ActivityRecalcDuration,
		Notifications,
		RequestDuration,
		RequestsInFlight,
	}

	if pool != nil {
		collectors = append(collectors,
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "inkpath_db_connection_pool_active",
					Help: "Number of active database connections.",
				},
				func() float64 {
					return float64(pool.Stat().AcquiredConns())
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "inkpath_db_connection_pool_idle",
					Help: "Number of idle database connections.",
				},
				func() float64 {
					return float64(pool.Stat().IdleConns())
				},
			),
		)
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
