package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itinerary_cache_requests_total",
			Help: "Response cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	LLMAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itinerary_llm_attempts_total",
			Help: "Generative service attempts by outcome (success, transient, permanent, cancelled)",
		},
		[]string{"model", "outcome"},
	)

	GenerationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itinerary_generation_runs_total",
			Help: "Finished generation runs by kind and final status",
		},
		[]string{"kind", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "itinerary_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"stage"},
	)
)
