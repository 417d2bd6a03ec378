package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to live pipeline state.
type PipelineStats interface {
	PendingSessions() int
	QueueDepth() int
	InFlight() int
	SSESubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats PipelineStats

	pendingSessions *prometheus.Desc
	queueDepth      *prometheus.Desc
	inFlight        *prometheus.Desc
	sseSubscribers  *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (metrics will report 0).
func NewCollector(stats PipelineStats) *Collector {
	return &Collector{
		stats: stats,
		pendingSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pending_sessions"),
			"Clips waiting for a mode choice.",
			nil, nil,
		),
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "queue_depth"),
			"Runs queued but not yet started.",
			nil, nil,
		),
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "in_flight"),
			"Runs currently executing.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pendingSessions
	ch <- c.queueDepth
	ch <- c.inFlight
	ch <- c.sseSubscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, depth, running, subs int
	if c.stats != nil {
		pending = c.stats.PendingSessions()
		depth = c.stats.QueueDepth()
		running = c.stats.InFlight()
		subs = c.stats.SSESubscriberCount()
	}
	ch <- prometheus.MustNewConstMetric(c.pendingSessions, prometheus.GaugeValue, float64(pending))
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(running))
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(subs))
}
