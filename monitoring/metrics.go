// Package monitoring exposes Prometheus metrics and the training event hub.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbreakcast_predictions_total",
			Help: "Predictions served, by logic path and predicted class",
		},
		[]string{"path", "class"},
	)

	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbreakcast_model_loads_total",
			Help: "Model artifact load attempts, by result",
		},
		[]string{"status"},
	)

	ModelCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbreakcast_model_cache_hits_total",
			Help: "Model lookups served from the in-memory cache",
		},
	)

	ModelCacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbreakcast_model_cache_invalidations_total",
			Help: "Cache entries dropped, by trigger",
		},
		[]string{"trigger"},
	)

	TrainingOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbreakcast_training_outcomes_total",
			Help: "Per-country training results",
		},
		[]string{"outcome"},
	)

	TrainingBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbreakcast_training_batch_duration_seconds",
			Help:    "Wall time of a full batch training run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	CasePointsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbreakcast_case_points_ingested_total",
			Help: "Case history points imported, by result",
		},
		[]string{"result"},
	)
)
