package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ImagesProcessed counts completed pipeline runs by outcome
	// ("success", "partial", "failure").
	ImagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_images_processed_total",
		Help: "Total number of images processed, by outcome.",
	}, []string{"outcome"})

	// ProcessingDuration observes wall-clock pipeline time per image.
	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ocr_processing_duration_seconds",
		Help:    "Time spent processing a single image.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// EngineFailures counts failed engine invocations by engine name.
	EngineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_engine_failures_total",
		Help: "Total failed recognition engine invocations, by engine.",
	}, []string{"engine"})

	// FusedSpans observes how many fused spans each image produced.
	FusedSpans = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ocr_fused_spans_per_image",
		Help:    "Number of fused spans produced per image.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
