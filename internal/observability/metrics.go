package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the auction indexer.
type Metrics struct {
	// --- Projector ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreSequence       prometheus.Gauge
	AuctionsTracked    prometheus.Gauge
	AuctionsCleared    prometheus.Counter

	// --- Channels & backpressure ---
	ProjectionDrops     prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	IngestMessages    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistEntitiesWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_core_events_applied_total",
			Help: "Events successfully applied by the projector",
		}, []string{"event_type"}),
		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_core_events_rejected_total",
			Help: "Events rejected before application",
		}, []string{"event_type", "reason"}),
		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auction_core_event_duration_seconds",
			Help:    "Per-event processing time in the projector",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),
		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_core_sequence",
			Help: "Next sequence the projector will assign",
		}),
		AuctionsTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_auctions_tracked",
			Help: "Number of auctions currently tracked in memory",
		}),
		AuctionsCleared: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_auctions_cleared_total",
			Help: "Auctions settled on-chain and finalized",
		}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_projection_drops_total",
			Help: "Outputs dropped on the non-blocking projection channel",
		}),
		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_persist_backpressure_total",
			Help: "Times the projector blocked on the persist channel",
		}),

		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_ingest_messages_total",
			Help: "Messages received per NATS subject",
		}, []string{"subject"}),
		IngestParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_ingest_parse_errors_total",
			Help: "Messages rejected by the event parser",
		}, []string{"event_type"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_persist_events_written_total",
			Help: "Event-log rows written",
		}),
		PersistEntitiesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_persist_entities_written_total",
			Help: "Entity upserts written",
		}),
		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_persist_batch_duration_seconds",
			Help:    "Time to flush one persistence batch",
			Buckets: prometheus.DefBuckets,
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_persist_errors_total",
			Help: "Persistence write failures",
		}, []string{"kind"}),
		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_persist_retries_total",
			Help: "Persistence batch retries",
		}),
		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_snapshot_taken_total",
			Help: "State snapshots written",
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_snapshot_duration_seconds",
			Help:    "Time to write one snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auction_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint"}),
	}
}
