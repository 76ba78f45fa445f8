package extract

import "github.com/prometheus/client_golang/prometheus"

var (
	recordsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kwextract",
		Subsystem: "pipeline",
		Name:      "records_processed_total",
		Help:      "Total number of records completed",
	})

	keywordsExtracted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kwextract",
		Subsystem: "pipeline",
		Name:      "keywords_extracted_total",
		Help:      "Total number of keywords extracted across all records",
	})

	parseFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kwextract",
		Subsystem: "pipeline",
		Name:      "parse_fallbacks_total",
		Help:      "Completions that were not valid JSON arrays and took the delimiter fallback",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kwextract",
		Subsystem: "pipeline",
		Name:      "batch_duration_seconds",
		Help:      "Duration of one extraction batch in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(recordsProcessed, keywordsExtracted, parseFallbacks, batchDuration)
}
