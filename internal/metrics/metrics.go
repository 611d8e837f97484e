// Package metrics collects Prometheus metrics for the stream hub.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once           sync.Once
	registry       *prometheus.Registry
	defaultMetrics *Metrics
)

// Metrics wraps every instrument the hub exposes.
type Metrics struct {
	// Viewer connections
	ConnectedViewers  prometheus.Gauge
	ViewerConnects    prometheus.Counter
	ViewerDisconnects prometheus.Counter

	// Frame flow
	FramesPublished prometheus.Counter
	FramesWritten   prometheus.Counter
	FramesDropped   prometheus.Counter
	FrameSize       prometheus.Histogram

	// Supplementary surfaces
	SourceFrames   prometheus.Counter
	SnapshotWrites prometheus.Counter

	// Errors
	ErrorsTotal prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	registry = prometheus.NewRegistry()

	return &Metrics{
		ConnectedViewers: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_viewers",
			Help:      "Number of currently connected viewers",
		}),
		ViewerConnects: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_connects_total",
			Help:      "Accepted viewer connections",
		}),
		ViewerDisconnects: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_disconnects_total",
			Help:      "Viewer connections torn down",
		}),
		FramesPublished: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_published_total",
			Help:      "Frames accepted from the producer",
		}),
		FramesWritten: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Frames serialized onto viewer sockets",
		}),
		FramesDropped: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a viewer slot was still occupied",
		}),
		FrameSize: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_size_bytes",
			Help:      "Published JPEG payload size distribution",
			Buckets:   []float64{1024, 4096, 16384, 65536, 262144, 1048576},
		}),
		SourceFrames: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_frames_total",
			Help:      "Frames ingested from the external source",
		}),
		SnapshotWrites: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Snapshot frames flushed to the store",
		}),
		ErrorsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors across accept, handshake and store operations",
		}),
	}
}

// GetRegistry returns the registry backing the default metrics.
func GetRegistry() *prometheus.Registry {
	return registry
}

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = NewMetrics("mjpeghub")
	})
	return defaultMetrics
}

// Convenience recorders.

func ViewerConnected() {
	m := Default()
	m.ConnectedViewers.Inc()
	m.ViewerConnects.Inc()
}

func ViewerDisconnected() {
	m := Default()
	m.ConnectedViewers.Dec()
	m.ViewerDisconnects.Inc()
}

func FramePublished(sizeBytes float64) {
	m := Default()
	m.FramesPublished.Inc()
	m.FrameSize.Observe(sizeBytes)
}

func FrameWritten(sizeBytes float64) {
	Default().FramesWritten.Inc()
}

func FrameDropped() {
	Default().FramesDropped.Inc()
}

func SourceFrame() {
	Default().SourceFrames.Inc()
}

func SnapshotWritten() {
	Default().SnapshotWrites.Inc()
}

func RecordError() {
	Default().ErrorsTotal.Inc()
}
