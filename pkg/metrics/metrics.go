// Package metrics provides Prometheus instrumentation for the coordination core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingress pipeline metrics.
var (
	IngressOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_ingress_outcomes_total",
		Help: "Inbound messages by platform and pipeline outcome.",
	}, []string{"platform", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rally_ingress_stage_duration_seconds",
		Help:    "Pipeline substep duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
	}, []string{"stage"})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_classifications_total",
		Help: "Stage-2 classification results by category.",
	}, []string{"category"})
)

// Datastore router metrics.
var (
	PoolCheckouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_pool_checkouts_total",
		Help: "Pool checkouts by pool and outcome (ok, timeout, backpressure, degraded).",
	}, []string{"pool", "outcome"})

	PoolWaiters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rally_pool_waiters",
		Help: "Callers currently waiting for a slot, per pool.",
	}, []string{"pool"})

	PoolDegraded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rally_pool_degraded",
		Help: "1 when the pool is marked degraded by health probes.",
	}, []string{"pool"})
)

// Session and raid metrics.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rally_active_sessions",
		Help: "Sessions currently in active state.",
	})

	ActiveRaids = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rally_active_raids",
		Help: "Raids currently in active status.",
	})

	SessionsSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_sessions_swept_total",
		Help: "Sweep transitions by kind (expired, removed).",
	}, []string{"kind"})

	VerifyResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_verify_results_total",
		Help: "Action verification results by verdict.",
	}, []string{"verdict"})

	LoopFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_loop_failures_total",
		Help: "Background loop iteration failures by loop name.",
	}, []string{"loop"})

	StateCorruption = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rally_state_corruption_total",
		Help: "Detected invariant violations. Any increment precedes a process abort.",
	})
)

// Event bus metrics.
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_events_published_total",
		Help: "Events published by topic kind (session, raid, agent).",
	}, []string{"kind"})

	DeliveryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_delivery_dropped_total",
		Help: "Events dropped per subscription by reason (queue_full, write_timeout).",
	}, []string{"reason"})

	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rally_subscriptions",
		Help: "Live bus subscriptions.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rally_ws_connections",
		Help: "Active events WebSocket connections.",
	})
)

// Model engine metrics.
var (
	EngineRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_engine_requests_total",
		Help: "Model engine calls by outcome.",
	}, []string{"outcome"})

	EngineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rally_engine_duration_seconds",
		Help:    "Model engine call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	EngineTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rally_engine_tokens_total",
		Help: "Tokens reported used by the model engine.",
	})

	DispatchQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_dispatch_jobs_total",
		Help: "Jobs accepted into a dispatch lane.",
	}, []string{"lane"})

	DispatchRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rally_dispatch_rejected_total",
		Help: "Jobs rejected because a dispatch lane was full.",
	}, []string{"lane"})
)
