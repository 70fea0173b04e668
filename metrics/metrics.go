// Package metrics defines the engine's Prometheus instrumentation surface.
// A Registry is constructed explicitly and passed to the components that
// need it — never a package-level global — so multiple store.Store
// instances in one process (as the store package's tests create) don't
// collide on metric registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric the engine emits.
type Registry struct {
	reg *prometheus.Registry

	IngestLatency       prometheus.Histogram
	IngestTotal         *prometheus.CounterVec
	WALFsyncLatency     prometheus.Histogram
	CompactionDuration  prometheus.Histogram
	CompactionFilesMoved prometheus.Counter
	QuotaRejections     *prometheus.CounterVec
	SnapshotsTaken      *prometheus.CounterVec
	QueryLatency        prometheus.Histogram
}

// New creates a Registry backed by a fresh prometheus.Registry (not the
// global DefaultRegisterer), and registers every collector on it.
func New() *Registry {
	r := prometheus.NewRegistry()
	m := &Registry{
		reg: r,
		IngestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_ingest_duration_seconds",
			Help:    "Latency of Store.Ingest, from just before the WAL append through the snapshot check.",
			Buckets: prometheus.DefBuckets,
		}),
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_ingest_total",
			Help: "Count of ingest attempts by outcome.",
		}, []string{"outcome"}),
		WALFsyncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_wal_fsync_duration_seconds",
			Help:    "Latency of the fsync call backing each durable WAL append.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_compaction_duration_seconds",
			Help:    "Wall-clock duration of a compaction run.",
			Buckets: prometheus.DefBuckets,
		}),
		CompactionFilesMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_compaction_files_moved_total",
			Help: "Count of columnar files consumed by compaction runs.",
		}),
		QuotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_quota_rejections_total",
			Help: "Count of ingest/query attempts rejected by tenant quota, by quota name.",
		}, []string{"tenant_id", "quota"}),
		SnapshotsTaken: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_snapshots_taken_total",
			Help: "Count of snapshots admitted, by snapshot type.",
		}, []string{"type"}),
		QueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_query_duration_seconds",
			Help:    "Latency of Store.Query calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	r.MustRegister(
		m.IngestLatency, m.IngestTotal, m.WALFsyncLatency, m.CompactionDuration,
		m.CompactionFilesMoved, m.QuotaRejections, m.SnapshotsTaken, m.QueryLatency,
	)
	return m
}

// Gatherer exposes the underlying registry for an HTTP handler
// (promhttp.HandlerFor) to serve, without leaking prometheus.Registerer
// (write access) to callers that only need to read.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }
