// Package metrics defines the prometheus collectors of the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts single calls to the source, by outcome (ok, empty, error).
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollen_fetch_attempts_total",
		Help: "Calls made to the pollen source, including retries.",
	}, []string{"outcome"})

	// FetchTasks counts settled fetch tasks, by result (ok, failed, skipped).
	FetchTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollen_fetch_tasks_total",
		Help: "Planned fetch tasks by final result.",
	}, []string{"result"})

	ObservationsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollen_observations_merged_total",
		Help: "Observations merged into the canonical store.",
	})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pollen_sync_duration_seconds",
		Help:    "Wall time of complete sync runs.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)
