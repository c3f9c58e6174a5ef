// Package metrics exposes the Prometheus collectors for the audio pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

var (
	// SegmentsTotal counts transcript segments persisted across all sessions.
	SegmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recap_segments_total",
		Help: "Number of transcript segments persisted.",
	})

	// SilentChunksTotal counts chunks whose transcription came back empty.
	SilentChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recap_silent_chunks_total",
		Help: "Number of audio chunks transcribed to empty text.",
	})

	// ExtractionsTotal counts extraction attempts by outcome.
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recap_extractions_total",
		Help: "Number of extraction attempts by status.",
	}, []string{"status"})

	// LiveSubscribers tracks currently open live push connections.
	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recap_live_subscribers",
		Help: "Currently connected live stream subscribers.",
	})

	// ProviderLatency observes remote provider call durations.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recap_provider_latency_seconds",
		Help:    "Latency of remote provider calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
