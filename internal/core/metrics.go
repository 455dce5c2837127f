package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatcore",
		Name:      "turns_total",
		Help:      "Chat turns by mode and outcome.",
	}, []string{"mode", "outcome"})

	kbFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Name:      "kb_failures_total",
		Help:      "Knowledge base lookups that failed and were reported to the caller.",
	})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatcore",
		Name:      "generation_duration_seconds",
		Help:      "Time spent waiting for the generation backend.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
	}, []string{"mode"})

	retrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatcore",
		Name:      "retrieval_duration_seconds",
		Help:      "Time spent per context retrieval track.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"track"})
)

const (
	modeAdd        = "add"
	modeRetry      = "retry"
	modeRegenerate = "regenerate"

	outcomeOK              = "ok"
	outcomeRejected        = "rejected"
	outcomeGenerationError = "generation_error"
	outcomeUpstreamError   = "upstream_error"
	outcomePersistError    = "persistence_error"
)
