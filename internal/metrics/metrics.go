// Package metrics exposes Prometheus instruments for jobs, pipeline stages,
// collaborator retries, and the service cache. Instruments register with the
// default registry; the daemon serves them at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsTotal counts jobs reaching a status.
	// Labels: status (submitted/completed/failed/cancelled), mode (full/update)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubline_jobs_total",
			Help: "Total number of jobs by status transition and run mode",
		},
		[]string{"status", "mode"},
	)

	// ActiveJobs is the number of worker slots currently running a job.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dubline_active_jobs",
			Help: "Number of jobs currently processing",
		},
	)

	// QueueDepth is the number of admitted runs waiting for a worker slot.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dubline_queue_depth",
			Help: "Number of runs waiting for a worker slot",
		},
	)

	// StageDuration observes wall time per pipeline stage.
	// Labels: stage, outcome (success/error/cancelled)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dubline_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"stage", "outcome"},
	)

	// RecordRetriesTotal counts per-record collaborator retries.
	// Labels: stage (transcription/translation/synthesis)
	RecordRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubline_record_retries_total",
			Help: "Total number of per-record collaborator retries",
		},
		[]string{"stage"},
	)

	// RecordsSynthesizedTotal counts synthesized clips.
	// Labels: stretched (true/false)
	RecordsSynthesizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubline_records_synthesized_total",
			Help: "Total number of synthesized utterance clips",
		},
		[]string{"stretched"},
	)

	// CacheLookupsTotal counts service cache lookups.
	// Labels: kind, result (hit/miss/error)
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubline_service_cache_lookups_total",
			Help: "Total number of service cache lookups by kind and result",
		},
		[]string{"kind", "result"},
	)

	// CacheEntries is the number of live service handles.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dubline_service_cache_entries",
			Help: "Number of cached service handles",
		},
	)
)

// RecordJob records a job status transition.
func RecordJob(status, mode string) {
	JobsTotal.WithLabelValues(status, mode).Inc()
}

// RecordStage records a finished stage.
func RecordStage(stage, outcome string, elapsed time.Duration) {
	StageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

// RecordRetry records a per-record retry attempt.
func RecordRetry(stage string) {
	RecordRetriesTotal.WithLabelValues(stage).Inc()
}

// RecordSynthesis records a synthesized clip.
func RecordSynthesis(stretched bool) {
	label := "false"
	if stretched {
		label = "true"
	}
	RecordsSynthesizedTotal.WithLabelValues(label).Inc()
}

// RecordCacheLookup records a service cache lookup result.
func RecordCacheLookup(kind, result string) {
	CacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
