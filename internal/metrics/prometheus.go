package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sf7293/taskq/internal/taskq"
)

var (
	// TaskResults counts finished task executions by queue and outcome.
	TaskResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskq_task_results_total",
			Help: "Total number of task executions by result.",
		},
		[]string{"queue", "result"},
	)

	// TaskDurationSeconds is a histogram for the run time of task handlers.
	TaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskq_task_duration_seconds",
			Help:    "Duration of task executions in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)

// StatsSource is a queue group.
type StatsSource interface {
	Stats() taskq.Stats
}

var (
	addedDesc     = prometheus.NewDesc("taskq_tasks_added_total", "Tasks added to the queue group.", nil, nil)
	doneDesc      = prometheus.NewDesc("taskq_tasks_done_total", "Tasks finished by the queue group.", nil, nil)
	queuedDesc    = prometheus.NewDesc("taskq_tasks_queued", "Tasks added and not done yet.", nil, nil)
	pausedDesc    = prometheus.NewDesc("taskq_paused", "1 while dispatching is paused.", nil, nil)
	availableDesc = prometheus.NewDesc("taskq_store_available", "1 while the task store is reachable.", nil, nil)

	queueSizeDesc       = prometheus.NewDesc("taskq_queue_size", "Pending entries of a queue.", []string{"queue", "kind"}, nil)
	queueInProgressDesc = prometheus.NewDesc("taskq_queue_in_progress", "Running tasks of a queue.", []string{"queue", "kind"}, nil)
	queueMaxDesc        = prometheus.NewDesc("taskq_queue_max_concurrent", "Concurrency limit of a queue.", []string{"queue", "kind"}, nil)
	queuePausedDesc     = prometheus.NewDesc("taskq_queue_paused", "1 while a queue is paused.", []string{"queue", "kind"}, nil)
)

// GroupCollector reads the group's counters on every scrape.
type GroupCollector struct {
	source    StatsSource
	available func() bool
}

// NewGroupCollector creates a collector for source. available may be nil
// for groups without a task store.
func NewGroupCollector(source StatsSource, available func() bool) *GroupCollector {
	return &GroupCollector{source: source, available: available}
}

func (c *GroupCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- addedDesc
	ch <- doneDesc
	ch <- queuedDesc
	ch <- pausedDesc
	if c.available != nil {
		ch <- availableDesc
	}
	ch <- queueSizeDesc
	ch <- queueInProgressDesc
	ch <- queueMaxDesc
	ch <- queuePausedDesc
}

func (c *GroupCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(addedDesc, prometheus.CounterValue, float64(stats.Added))
	ch <- prometheus.MustNewConstMetric(doneDesc, prometheus.CounterValue, float64(stats.Done))
	ch <- prometheus.MustNewConstMetric(queuedDesc, prometheus.GaugeValue, float64(stats.Queued))
	ch <- prometheus.MustNewConstMetric(pausedDesc, prometheus.GaugeValue, boolValue(stats.Paused))
	if c.available != nil {
		ch <- prometheus.MustNewConstMetric(availableDesc, prometheus.GaugeValue, boolValue(c.available()))
	}

	for _, q := range stats.Queues {
		ch <- prometheus.MustNewConstMetric(queueSizeDesc, prometheus.GaugeValue, float64(q.Size), q.Name, q.Kind)
		ch <- prometheus.MustNewConstMetric(queueInProgressDesc, prometheus.GaugeValue, float64(q.InProgress), q.Name, q.Kind)
		ch <- prometheus.MustNewConstMetric(queueMaxDesc, prometheus.GaugeValue, float64(q.MaxConcurrent), q.Name, q.Kind)
		ch <- prometheus.MustNewConstMetric(queuePausedDesc, prometheus.GaugeValue, boolValue(q.Paused), q.Name, q.Kind)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
