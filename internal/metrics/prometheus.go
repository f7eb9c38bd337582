package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drive_rag_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_rag_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drive_rag_vector_results_count",
			Help:    "Number of vector results per query after threshold filtering",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	UserSatisfaction = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drive_rag_satisfaction_score",
			Help: "User feedback satisfaction score",
		},
		[]string{"helpful"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_rag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_rag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_rag_documents_processed_total",
			Help: "Total documents processed by outcome",
		},
		[]string{"outcome"},
	)

	ChunksUpserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drive_rag_chunks_upserted_total",
			Help: "Total chunks written to the vector store",
		},
	)

	ChunksDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drive_rag_chunks_deleted_total",
			Help: "Total chunks removed from the vector store",
		},
	)

	ReconcilePassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drive_rag_reconcile_pass_duration_seconds",
			Help:    "Duration of one reconciliation pass",
			Buckets: []float64{1, 5, 15, 60, 300, 900},
		},
	)

	ReconcileFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_rag_reconcile_files_total",
			Help: "Files handled per reconciliation outcome",
		},
		[]string{"outcome"},
	)

	EmbeddingBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_rag_embedding_batches_total",
			Help: "Embedding batches by outcome",
		},
		[]string{"outcome"},
	)

	OrphansDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drive_rag_orphans_deleted_total",
			Help: "Orphaned chunks removed by the sweeper",
		},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(VectorResultsCount)
	prometheus.MustRegister(UserSatisfaction)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(ChunksUpserted)
	prometheus.MustRegister(ChunksDeleted)
	prometheus.MustRegister(ReconcilePassDuration)
	prometheus.MustRegister(ReconcileFiles)
	prometheus.MustRegister(EmbeddingBatchesTotal)
	prometheus.MustRegister(OrphansDeleted)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
