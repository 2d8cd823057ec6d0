package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels shared by the front-end collectors.
const (
	FrameComplete     = "complete"
	FrameDiscarded    = "discarded"
	FrameUnroutable   = "unroutable"
	JobEnqueued       = "enqueued"
	JobDropped        = "dropped"
	ResultDelivered   = "delivered"
	ResultDropped     = "dropped"
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

var (
	registerOnce sync.Once

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "boxrelay",
			Subsystem: "frontend",
			Name:      "connections_active",
			Help:      "Open client connections.",
		},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxrelay",
			Subsystem: "frontend",
			Name:      "frames_total",
			Help:      "Frames extracted or discarded by the framer.",
		},
		[]string{"result"},
	)
	bridgeJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxrelay",
			Subsystem: "bridge",
			Name:      "jobs_total",
			Help:      "Jobs handed to worker group inbound queues.",
		},
		[]string{"group", "result"},
	)
	bridgeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxrelay",
			Subsystem: "bridge",
			Name:      "results_total",
			Help:      "Results drained from worker group outbound queues.",
		},
		[]string{"group", "result"},
	)
	linksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "boxrelay",
			Subsystem: "broker",
			Name:      "links_active",
			Help:      "Worker processes attached to a group socket.",
		},
		[]string{"group"},
	)
	respawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxrelay",
			Subsystem: "supervisor",
			Name:      "respawns_total",
			Help:      "Worker processes restarted after exit.",
		},
		[]string{"group"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "boxrelay",
			Name:      "queue_depth",
			Help:      "Messages buffered in a worker group queue.",
		},
		[]string{"group", "direction"},
	)
	adminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxrelay",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	adminDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boxrelay",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsActive,
			framesTotal,
			bridgeJobs,
			bridgeResults,
			linksActive,
			respawns,
			queueDepth,
			adminRequests,
			adminDuration,
		)
	})
}

func ConnectionOpened() {
	RegisterMetrics()
	connectionsActive.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func RecordFrame(result string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(result).Inc()
}

func RecordJob(group, result string) {
	RegisterMetrics()
	bridgeJobs.WithLabelValues(group, result).Inc()
}

func RecordResult(group, result string) {
	RegisterMetrics()
	bridgeResults.WithLabelValues(group, result).Inc()
}

func LinkAttached(group string) {
	RegisterMetrics()
	linksActive.WithLabelValues(group).Inc()
}

func LinkDetached(group string) {
	RegisterMetrics()
	linksActive.WithLabelValues(group).Dec()
}

func RecordRespawn(group string) {
	RegisterMetrics()
	respawns.WithLabelValues(group).Inc()
}

func SetQueueDepth(group, direction string, n int) {
	RegisterMetrics()
	queueDepth.WithLabelValues(group, direction).Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	adminRequests.WithLabelValues(method, path, statusLabel).Inc()
	adminDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
