// Package metrics provides Prometheus metrics for monitoring the batch
// generation engine: item throughput, retry volume, generation latency and
// download activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgbatch_items_completed_total",
			Help: "Total number of task items completed successfully",
		},
		[]string{"model_family"},
	)
	ItemsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgbatch_items_failed_total",
			Help: "Total number of task items that failed permanently",
		},
		[]string{"model_family"},
	)
	ItemsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgbatch_items_retried_total",
			Help: "Total number of item retry attempts",
		},
		[]string{"model_family"},
	)
	ItemsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgbatch_items_in_flight",
			Help: "Current number of generation calls in flight",
		},
	)
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgbatch_generation_duration_seconds",
			Help:    "Generation call duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model_family", "status"},
	)
	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgbatch_tasks_active",
			Help: "Current number of batch tasks in processing state",
		},
	)
	DownloadsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgbatch_downloads_completed_total",
			Help: "Total number of artifacts persisted to storage",
		},
	)
	DownloadsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgbatch_downloads_failed_total",
			Help: "Total number of download jobs that failed permanently",
		},
	)
	DownloadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgbatch_downloads_in_flight",
			Help: "Current number of downloads in flight",
		},
	)
	DownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgbatch_download_bytes_total",
			Help: "Total bytes written to artifact storage",
		},
	)
)
