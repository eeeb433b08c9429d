// Package metrics exposes Prometheus counters and gauges for the BLIP
// engine: connections, frames, acks, checkpoint progress, and host
// resource usage, mirroring the teacher server's metrics.go layout.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blip_connections_total",
		Help: "Total number of BLIP connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blip_connections_active",
		Help: "Current number of active BLIP connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blip_connections_rejected_total",
		Help: "Total connections rejected by the admission limiter, by reason",
	}, []string{"reason"})

	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blip_frames_sent_total",
		Help: "Total BLIP frames sent, by message type",
	}, []string{"type"})

	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blip_frames_received_total",
		Help: "Total BLIP frames received, by message type",
	}, []string{"type"})

	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blip_bytes_sent_total",
		Help: "Total bytes sent across all BLIP connections",
	})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blip_bytes_received_total",
		Help: "Total bytes received across all BLIP connections",
	})

	MessagesIced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blip_messages_iced_total",
		Help: "Total outgoing messages frozen in the icebox awaiting an ack",
	})

	ChecksumFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blip_frame_checksum_failures_total",
		Help: "Total received frames that failed CRC32C checksum verification",
	})

	CheckpointSequence = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blip_checkpoint_local_min_sequence",
		Help: "Current local min sequence (one less than the smallest pending sequence) per replication checkpoint",
	}, []string{"checkpoint"})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blip_cpu_usage_percent",
		Help: "Current CPU usage percentage",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blip_memory_bytes",
		Help: "Current memory usage in bytes",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blip_goroutines_active",
		Help: "Current number of active goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		FramesSent,
		FramesReceived,
		BytesSent,
		BytesReceived,
		MessagesIced,
		ChecksumFailures,
		CheckpointSequence,
		CPUUsagePercent,
		MemoryUsageBytes,
		GoroutinesActive,
	)
}

// Handler returns the HTTP handler that serves the Prometheus exposition
// format for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
