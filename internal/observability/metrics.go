package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wirechan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wirechan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	channelFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wirechan",
			Subsystem: "channel",
			Name:      "frames_total",
			Help:      "Frames moved over channels.",
		},
		[]string{"direction"},
	)
	channelBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wirechan",
			Subsystem: "channel",
			Name:      "bytes_total",
			Help:      "Frame bytes moved over channels, headers included.",
		},
		[]string{"direction"},
	)
	channelDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wirechan",
			Subsystem: "channel",
			Name:      "disconnects_total",
			Help:      "Channel disconnects by reason.",
		},
		[]string{"reason"},
	)
	channelsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wirechan",
			Subsystem: "channel",
			Name:      "open",
			Help:      "Channels currently connected.",
		},
	)
	compressionRatio = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wirechan",
			Subsystem: "channel",
			Name:      "compression_ratio",
			Help:      "Compressed payload size over raw payload size.",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1, 1.1},
		},
		[]string{"codec"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			channelFrames, channelBytes, channelDisconnects, channelsOpen, compressionRatio,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(direction string, bytes int) {
	RegisterMetrics()
	channelFrames.WithLabelValues(direction).Inc()
	channelBytes.WithLabelValues(direction).Add(float64(bytes))
}

func RecordConnected() {
	RegisterMetrics()
	channelsOpen.Inc()
}

// RecordDisconnect counts a disconnect; wasConnected also releases the open gauge.
func RecordDisconnect(reason string, wasConnected bool) {
	RegisterMetrics()
	channelDisconnects.WithLabelValues(reason).Inc()
	if wasConnected {
		channelsOpen.Dec()
	}
}

func RecordCompression(codec string, raw, packed int) {
	if raw <= 0 {
		return
	}
	RegisterMetrics()
	compressionRatio.WithLabelValues(codec).Observe(float64(packed) / float64(raw))
}
