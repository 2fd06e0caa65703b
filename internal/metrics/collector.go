package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats provides the collector access to worker pool state.
type QueueStats interface {
	Pending() int
	Running() int
	Completed() int64
	Failed() int64
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	queue QueueStats

	queuePending  *prometheus.Desc
	queueRunning  *prometheus.Desc
	jobsCompleted *prometheus.Desc
	jobsFailed    *prometheus.Desc
	dbTotalConns  *prometheus.Desc
	dbIdleConns   *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil when no database is configured.
func NewCollector(pool *pgxpool.Pool, queue QueueStats) *Collector {
	return &Collector{
		pool:  pool,
		queue: queue,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "pending_jobs"),
			"Jobs waiting for the transcription worker.",
			nil, nil,
		),
		queueRunning: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "running_jobs"),
			"Jobs currently being transcribed.",
			nil, nil,
		),
		jobsCompleted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "completed"),
			"Jobs completed since start.",
			nil, nil,
		),
		jobsFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "failed"),
			"Jobs failed since start.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.queueRunning
	ch <- c.jobsCompleted
	ch <- c.jobsFailed
	ch <- c.dbTotalConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, running, completed, failed float64
	if c.queue != nil {
		pending = float64(c.queue.Pending())
		running = float64(c.queue.Running())
		completed = float64(c.queue.Completed())
		failed = float64(c.queue.Failed())
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.queueRunning, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.jobsCompleted, prometheus.CounterValue, completed)
	ch <- prometheus.MustNewConstMetric(c.jobsFailed, prometheus.CounterValue, failed)

	var total, idle float64
	if c.pool != nil {
		stat := c.pool.Stat()
		total = float64(stat.TotalConns())
		idle = float64(stat.IdleConns())
	}
	ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, total)
	ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, idle)
}
