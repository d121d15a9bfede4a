package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sf7293/taskq/internal/taskq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func TestGroupCollector(t *testing.T) {
	g := taskq.NewGroup()
	release := make(chan struct{})
	h := taskq.HandlerFunc(func(context.Context, any, string, string, int64) error {
		<-release
		return nil
	})
	require.NoError(t, g.AddQueue(taskq.NewQos("reports", taskq.Singleton(h), taskq.WithMaxConcurrent(1))))
	require.NoError(t, g.AddQueue(taskq.NewFifo("mail", taskq.Singleton(h))))

	g.Start(context.Background())
	defer g.Stop(time.Second, time.Second)

	g.EnqueuePayload("reports", 1, "a")
	g.EnqueuePayload("reports", 2, "a")
	require.Eventually(t, func() bool { return g.Queue("reports").InProgress() == 1 }, time.Second, 5*time.Millisecond)

	reg := prometheus.NewPedanticRegistry()
	available := true
	require.NoError(t, reg.Register(NewGroupCollector(g, func() bool { return available })))

	families := gather(t, reg)
	assert.Equal(t, 2.0, families["taskq_tasks_added_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 2.0, families["taskq_tasks_queued"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, families["taskq_store_available"].GetMetric()[0].GetGauge().GetValue())
	assert.Len(t, families["taskq_queue_size"].GetMetric(), 2)

	for _, m := range families["taskq_queue_in_progress"].GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["queue"] == "reports" {
			assert.Equal(t, "qos", labels["kind"])
			assert.Equal(t, 1.0, m.GetGauge().GetValue())
		}
	}

	close(release)
	require.True(t, g.AwaitAllDoneTimeout(time.Second))
	g.SetPaused(true)

	families = gather(t, reg)
	assert.Equal(t, 2.0, families["taskq_tasks_done_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, families["taskq_paused"].GetMetric()[0].GetGauge().GetValue())
}

func TestGroupCollector_WithoutStore(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewGroupCollector(taskq.NewGroup(), nil)))

	families := gather(t, reg)
	assert.NotContains(t, families, "taskq_store_available")
	assert.Contains(t, families, "taskq_tasks_added_total")
}

func TestTaskMetrics(t *testing.T) {
	TaskResults.WithLabelValues("mail", "succeeded").Inc()
	TaskDurationSeconds.WithLabelValues("mail").Observe(0.2)
}
