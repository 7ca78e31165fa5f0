package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the cache service.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Cache records ---
	RecordLastUpdate *prometheus.GaugeVec
	RecordValue      *prometheus.GaugeVec
	ListedSlots      *prometheus.GaugeVec

	// --- Freshness checks ---
	FreshnessChecks  *prometheus.CounterVec
	StaleRecords     *prometheus.CounterVec
	StaleRecordAge   *prometheus.HistogramVec

	// --- Latency ---
	IngestToApply  *prometheus.HistogramVec
	ApplyToPersist prometheus.Histogram

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics on reg. Pass prometheus.DefaultRegisterer
// in the service and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ageBuckets := []float64{1, 2, 5, 10, 30, 60, 120, 300, 900, 3600}

	return &Metrics{
		// Core processing
		CoreEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_core_events_applied_total",
			Help: "Events successfully applied to the cache",
		}, []string{"event_type"}),

		CoreEventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_core_events_rejected_total",
			Help: "Events rejected (duplicate, invalid price/index, out of order, slot)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreStateHashDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_core_state_hash_duration_seconds",
			Help:    "Time to hash the cache image",
			Buckets: latencyBuckets,
		}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_core_sequence",
			Help: "Current global sequence number",
		}),

		// Cache records
		RecordLastUpdate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_record_last_update_seconds",
			Help: "last_update of each cache record",
		}, []string{"kind", "slot"}),

		RecordValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_record_value",
			Help: "Lossy float view of cached prices, indices and funding",
		}, []string{"kind", "slot", "field"}),

		ListedSlots: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_listed_slots",
			Help: "Number of listed pairs, perp markets and tokens",
		}, []string{"kind"}),

		// Freshness checks
		FreshnessChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_freshness_checks_total",
			Help: "Freshness checks by result",
		}, []string{"result"}),

		StaleRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_stale_records_total",
			Help: "Records reported stale by freshness checks",
		}, []string{"kind"}),

		StaleRecordAge: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_stale_record_age_seconds",
			Help:    "Age of records reported stale",
			Buckets: ageBuckets,
		}, []string{"kind"}),

		// Latency
		IngestToApply: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		ApplyToPersist: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_apply_to_persist_seconds",
			Help:    "Core apply to event log commit",
			Buckets: prometheus.DefBuckets,
		}),

		// Channels
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_channel_size",
			Help: "Current number of items in channel",
		}, []string{"channel"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_channel_utilization",
			Help: "size / capacity",
		}, []string{"channel"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_idempotency_duplicates_total",
			Help: "Duplicate events detected",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_dedup_lru_size",
			Help: "Entries in the in-memory dedup LRU",
		}),

		DedupLRUEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: prometheus.DefBuckets,
		}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_persist_batch_size",
			Help:    "Events per persist batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_persist_batch_duration_seconds",
			Help:    "Time to commit one batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_persist_errors_total",
			Help: "Persist errors by kind",
		}, []string{"error_type"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_persist_retry_total",
			Help: "Batch commit retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_snapshot_size_bytes",
			Help: "Size of the last snapshot image",
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_replay_events_total",
			Help: "Events replayed during warm start",
		}),

		ReplayDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_replay_duration_seconds",
			Help: "Duration of the last warm start replay",
		}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_query_duration_seconds",
			Help:    "Query latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
