// Package metrics exposes the core's operational counters/gauges as
// Prometheus collectors, served over HTTP when Options.MetricsAddr is set.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Registry bundles the collectors the aggregator, supervisor, and publish
// path update. Wiring metrics is optional: every caller checks its
// *Registry for nil before touching a collector.
type Registry struct {
	FramesEmitted        prometheus.Counter
	FramesSkippedEmpty   prometheus.Counter
	FramesSkippedSkew     prometheus.Counter
	FramesDroppedDecode  prometheus.Counter
	PublishErrors        prometheus.Counter
	OversizeFrames       prometheus.Counter
	AdapterRecoveries    prometheus.Counter
	ConsecutiveEmptyTicks prometheus.Gauge
	PeersConnected       prometheus.Gauge
	CompressedFrameBytes prometheus.Histogram
}

// NewRegistry constructs and registers the core's collectors against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		FramesEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "sensoraggregator_frames_emitted_total",
			Help: "Combined frames successfully dispatched to the peripheral backend.",
		}),
		FramesSkippedEmpty: f.NewCounter(prometheus.CounterOpts{
			Name: "sensoraggregator_frames_skipped_empty_total",
			Help: "Ticks skipped because at least one peer queue had no fresh payload.",
		}),
		FramesSkippedSkew: f.NewCounter(prometheus.CounterOpts{
			Name: "sensoraggregator_frames_skipped_skew_total",
			Help: "Straggler-drop iterations performed while hunting for a within-skew candidate.",
		}),
		FramesDroppedDecode: f.NewCounter(prometheus.CounterOpts{
			Name: "sensoraggregator_frames_dropped_decode_total",
			Help: "Ticks dropped because a peer payload failed to decode.",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sensoraggregator_publish_errors_total",
			Help: "Errors returned by the peripheral backend's Update call.",
		}),
		OversizeFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "sensoraggregator_oversize_frames_total",
			Help: "Compressed frames that exceeded the MTU ceiling (still published).",
		}),
		AdapterRecoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "sensoraggregator_adapter_recoveries_total",
			Help: "Adapter power-cycles triggered by the connected-but-silent heuristic.",
		}),
		ConsecutiveEmptyTicks: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensoraggregator_consecutive_empty_ticks",
			Help: "Current consecutive-empty-packet tick count.",
		}),
		PeersConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensoraggregator_peers_connected",
			Help: "Number of roster slots currently in the Connected state.",
		}),
		CompressedFrameBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensoraggregator_compressed_frame_bytes",
			Help:    "Size distribution of compressed combined frames.",
			Buckets: prometheus.LinearBuckets(0, 64, 10),
		}),
	}
}

// Serve starts a best-effort HTTP server exposing /metrics on addr until
// ctx is cancelled. The command's entrypoint runs it in its own
// goroutine.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("metrics server stopped")
	}
}
