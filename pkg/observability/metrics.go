// Package observability carries the sync pipeline's metrics, tracing spans,
// Redis run events and the per-user sync lock.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Namespace prefixes every calinsight metric.
const Namespace = "calinsight"

// SyncMetrics holds the Prometheus metrics of the sync driver.
type SyncMetrics struct {
	registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	RunDurationSeconds *prometheus.HistogramVec
	EventsFetchedTotal prometheus.Counter
	RowsWrittenTotal   *prometheus.CounterVec
	SkippedTotal       *prometheus.CounterVec
	FailedChunksTotal  prometheus.Counter
	FailedBatchesTotal prometheus.Counter
	FetchRetriesTotal  prometheus.Counter
	LastSuccess        *prometheus.GaugeVec
}

// NewSyncMetrics creates the sync metrics on a private registry, which is
// what gets pushed to the Pushgateway and served on /metrics.
func NewSyncMetrics() *SyncMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &SyncMetrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "sync_runs_total",
				Help:      "Sync runs by mode and final status",
			},
			[]string{"mode", "status"},
		),
		RunDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "sync_run_duration_seconds",
				Help:      "Wall time of a sync run",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"mode"},
		),
		EventsFetchedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_events_fetched_total",
			Help:      "Raw calendar events received",
		}),
		RowsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "sync_rows_total",
				Help:      "Meeting rows by upsert outcome",
			},
			[]string{"result"},
		),
		SkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "sync_events_skipped_total",
				Help:      "Events dropped by the normalizer, by reason",
			},
			[]string{"reason"},
		),
		FailedChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_failed_chunks_total",
			Help:      "Time chunks whose fetch failed",
		}),
		FailedBatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_failed_batches_total",
			Help:      "Upsert batches rolled back",
		}),
		FetchRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_fetch_retries_total",
			Help:      "Calendar API calls retried after a transient failure",
		}),
		LastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "sync_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run per mode",
			},
			[]string{"mode"},
		),
	}
}

// Registry returns the registry holding the sync metrics.
func (m *SyncMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records the outcome of one run.
func (m *SyncMetrics) ObserveRun(mode, status string, elapsed time.Duration, finished time.Time) {
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	m.RunDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
	if status == "success" {
		m.LastSuccess.WithLabelValues(mode).Set(float64(finished.Unix()))
	}
}

// Push sends the current metric values to a Prometheus Pushgateway.
func (m *SyncMetrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
