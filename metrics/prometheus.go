// Package metrics exposes the Prometheus backing for spec §4.H's
// "Statistics": per-state entry counts, cache live/total capacity, cleanup
// totals and timings, and save-pipeline outcomes. Adapted from the
// teacher's internal/metrics/prometheus.go — same promauto-registered
// Counter/Gauge/Histogram shape and ConstLabels-by-node pattern — with the
// LSM-specific series (memtable, sstable, commit log, compaction, gossip)
// replaced by the tracking-layer equivalents this module actually produces.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus series a RepositoryContext reports.
type Metrics struct {
	// Tracking state gauges, one observation per state per
	// ObserveStateCounts call.
	EntriesByState prometheus.GaugeVec

	// Cache gauges (spec §4.A/§4.H: live vs. total capacity).
	CacheLiveEntries  prometheus.Gauge
	CacheCapacity     prometheus.Gauge

	// Cleanup counters/timings (spec §4.D cleanUp).
	CleanUpFullTotal      prometheus.Counter
	CleanUpPartialTotal   prometheus.Counter
	CleanUpReclaimedTotal prometheus.Counter
	CleanUpDuration       prometheus.Histogram

	// Save pipeline (spec §4.H saveChanges).
	SaveDuration        prometheus.Histogram
	SaveCommittedTotal  prometheus.CounterVec
	SaveWriteErrorTotal prometheus.CounterVec
	SaveCommandErrTotal prometheus.Counter

	// Save worker pool (internal/workerpool), sampled once per state phase
	// of a saveChanges call.
	SavePoolActiveWorkers prometheus.Gauge
	SavePoolQueueDepth    prometheus.Gauge

	// Reload (spec §4.H reload).
	ReloadTotal    prometheus.Counter
	ReloadDuration prometheus.Histogram
}

// New creates and registers the Metrics series for one process. nodeID
// distinguishes series when several RepositoryContexts share a process
// (rare, but mirrors the teacher's per-node ConstLabels).
func New(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		EntriesByState: *promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "docmap",
			Subsystem:   "tracking",
			Name:        "entries_by_state",
			Help:        "Number of tracked entries, by lifecycle state",
			ConstLabels: labels,
		}, []string{"state"}),

		CacheLiveEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "docmap",
			Subsystem:   "cache",
			Name:        "live_entries",
			Help:        "Unchanged entries whose weak reference is still alive",
			ConstLabels: labels,
		}),
		CacheCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "docmap",
			Subsystem:   "cache",
			Name:        "capacity",
			Help:        "Total Unchanged cache slots, live and dead",
			ConstLabels: labels,
		}),

		CleanUpFullTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "docmap",
			Subsystem:   "cleanup",
			Name:        "full_total",
			Help:        "Total number of full cache cleanups",
			ConstLabels: labels,
		}),
		CleanUpPartialTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "docmap",
			Subsystem:   "cleanup",
			Name:        "partial_total",
			Help:        "Total number of partial cache cleanups",
			ConstLabels: labels,
		}),
		CleanUpReclaimedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "docmap",
			Subsystem:   "cleanup",
			Name:        "reclaimed_total",
			Help:        "Total number of dead entries removed by cleanups",
			ConstLabels: labels,
		}),
		CleanUpDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "docmap",
			Subsystem:   "cleanup",
			Name:        "duration_seconds",
			Help:        "Histogram of cleanup durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		SaveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "docmap",
			Subsystem:   "save",
			Name:        "duration_seconds",
			Help:        "Histogram of saveChanges durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		SaveCommittedTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "docmap",
			Subsystem:   "save",
			Name:        "committed_total",
			Help:        "Total entries successfully persisted, by prior state",
			ConstLabels: labels,
		}, []string{"state"}),
		SaveWriteErrorTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "docmap",
			Subsystem:   "save",
			Name:        "write_errors_total",
			Help:        "Total per-document write errors reported by the store, by prior state",
			ConstLabels: labels,
		}, []string{"state"}),
		SaveCommandErrTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "docmap",
			Subsystem:   "save",
			Name:        "command_errors_total",
			Help:        "Total store-level command failures during saveChanges",
			ConstLabels: labels,
		}),

		SavePoolActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "docmap",
			Subsystem:   "save",
			Name:        "pool_active_workers",
			Help:        "Worker goroutines currently executing a save group",
			ConstLabels: labels,
		}),
		SavePoolQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "docmap",
			Subsystem:   "save",
			Name:        "pool_queue_depth",
			Help:        "Save groups currently queued, waiting on a worker",
			ConstLabels: labels,
		}),

		ReloadTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "docmap",
			Subsystem:   "reload",
			Name:        "total",
			Help:        "Total reload() invocations",
			ConstLabels: labels,
		}),
		ReloadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "docmap",
			Subsystem:   "reload",
			Name:        "duration_seconds",
			Help:        "Histogram of reload() durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// ObserveStateCounts records the current per-state entry counts.
func (m *Metrics) ObserveStateCounts(added, modified, deleted, unchanged int) {
	m.EntriesByState.WithLabelValues("added").Set(float64(added))
	m.EntriesByState.WithLabelValues("modified").Set(float64(modified))
	m.EntriesByState.WithLabelValues("deleted").Set(float64(deleted))
	m.EntriesByState.WithLabelValues("unchanged").Set(float64(unchanged))
}

// ObserveCache records the cache's live-entry and capacity gauges.
func (m *Metrics) ObserveCache(live, capacity int) {
	m.CacheLiveEntries.Set(float64(live))
	m.CacheCapacity.Set(float64(capacity))
}

// RecordCleanUp records the outcome of one State Manager cleanUp call.
func (m *Metrics) RecordCleanUp(full bool, reclaimed int, durationSeconds float64) {
	if full {
		m.CleanUpFullTotal.Inc()
	} else {
		m.CleanUpPartialTotal.Inc()
	}
	m.CleanUpReclaimedTotal.Add(float64(reclaimed))
	m.CleanUpDuration.Observe(durationSeconds)
}

// RecordSave records the outcome of one save group: one document kind
// within a single prior state (Added, Modified, or Deleted).
func (m *Metrics) RecordSave(state string, committed, writeErrors int) {
	m.SaveCommittedTotal.WithLabelValues(state).Add(float64(committed))
	m.SaveWriteErrorTotal.WithLabelValues(state).Add(float64(writeErrors))
}

// RecordSaveDuration records the wall-clock duration of one saveChanges call.
func (m *Metrics) RecordSaveDuration(seconds float64) {
	m.SaveDuration.Observe(seconds)
}

// RecordCommandError increments the store-level command failure counter.
func (m *Metrics) RecordCommandError() {
	m.SaveCommandErrTotal.Inc()
}

// ObservePool records a point-in-time snapshot of the save worker pool.
func (m *Metrics) ObservePool(activeWorkers, queueDepth int) {
	m.SavePoolActiveWorkers.Set(float64(activeWorkers))
	m.SavePoolQueueDepth.Set(float64(queueDepth))
}

// RecordReload records one reload() invocation's duration.
func (m *Metrics) RecordReload(seconds float64) {
	m.ReloadTotal.Inc()
	m.ReloadDuration.Observe(seconds)
}
