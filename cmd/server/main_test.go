package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sf7293/taskq/configs"
	"github.com/sf7293/taskq/internal/durable"
	"github.com/sf7293/taskq/internal/memstore"
	"github.com/sf7293/taskq/internal/node"
	"github.com/sf7293/taskq/internal/server"
	"github.com/sf7293/taskq/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testConfig() *configs.Config {
	cfg := &configs.Config{}
	cfg.Server = configs.ServerConfig{Host: "localhost", Port: "8080", Group: "test"}
	cfg.TaskQ = configs.TaskQConfig{ExpireTimeSeconds: 120, DbReloadMinFreePercent: 20}
	cfg.Queues = configs.QueuesConfig{MaxConcurrent: 2, QosQueues: []string{process.RunQuery}, MaxRetries: 3}
	return cfg
}

func runTestServer(t *testing.T) (*httptest.Server, *memstore.Store, *durable.Group) {
	t.Helper()

	store := memstore.New()
	g, err := node.NewGroup(store, testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	isReady.Store(true)

	ts := httptest.NewServer(setupHTTPServer(server.NewServerLogic(store, g)))
	t.Cleanup(func() {
		ts.Close()
		isReady.Store(false)
		g.Stop(time.Second, time.Second)
	})

	return ts, store, g
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	jsonData, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, v))
}

func Test_health_apis(t *testing.T) {
	ts, store, _ := runTestServer(t)

	t.Run("readiness returns 200 once the group runs", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/readiness", ts.URL))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("liveness returns 200 when the store is reachable", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/liveness", ts.URL))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("liveness returns 503 when the store is down", func(t *testing.T) {
		store.SetAvailable(false)
		defer store.SetAvailable(true)

		resp, err := http.Get(fmt.Sprintf("%s/liveness", ts.URL))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/metrics", ts.URL))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func Test_add_task_api(t *testing.T) {
	ts, store, g := runTestServer(t)

	t.Run("it stores and runs the task", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/queues/%s/tasks", ts.URL, process.SendEmail), map[string]any{
			"payload": `{"to":"user@example.com"}`,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var added map[string]any
		decode(t, resp, &added)
		assert.Equal(t, float64(1), added["task_id"])
		assert.Equal(t, process.SendEmail, added["queue"])
		assert.Equal(t, true, added["queued"])

		require.True(t, g.AwaitAllDoneTimeout(2*time.Second))
		_, ok := store.Task(1)
		assert.False(t, ok)
	})

	t.Run("it accepts a qos key on a qos queue", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/queues/%s/tasks", ts.URL, process.RunQuery), map[string]any{
			"payload": `{"query":"SELECT 1"}`,
			"qos_key": "tenant-1",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("it returns 404 for an unknown queue", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/queues/unknown/tasks", ts.URL), map[string]any{
			"payload": `{"to":"user@example.com"}`,
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("it returns 400 for an invalid payload", func(t *testing.T) {
		for _, payload := range []string{"", "null", "{}", "not json", `{"to":1}`} {
			resp := postJSON(t, fmt.Sprintf("%s/queues/%s/tasks", ts.URL, process.SendEmail), map[string]any{
				"payload": payload,
			})
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "payload %q", payload)
		}
	})

	t.Run("it returns 400 for a qos key with spaces", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/queues/%s/tasks", ts.URL, process.RunQuery), map[string]any{
			"payload": `{"query":"SELECT 1"}`,
			"qos_key": "tenant 1",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("it returns 500 when the store is down", func(t *testing.T) {
		store.SetAvailable(false)
		defer store.SetAvailable(true)

		resp := postJSON(t, fmt.Sprintf("%s/queues/%s/tasks", ts.URL, process.SendEmail), map[string]any{
			"payload": `{"to":"user@example.com"}`,
		})
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func Test_pause_apis(t *testing.T) {
	ts, _, g := runTestServer(t)

	resp := postJSON(t, fmt.Sprintf("%s/pause", ts.URL), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, g.Paused())

	resp = postJSON(t, fmt.Sprintf("%s/resume", ts.URL), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, g.Paused())

	resp = postJSON(t, fmt.Sprintf("%s/queues/%s/pause", ts.URL, process.RunQuery), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, g.Queue(process.RunQuery).Paused())

	resp = postJSON(t, fmt.Sprintf("%s/queues/%s/resume", ts.URL, process.RunQuery), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, g.Queue(process.RunQuery).Paused())

	resp = postJSON(t, fmt.Sprintf("%s/queues/unknown/pause", ts.URL), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func Test_stats_api(t *testing.T) {
	ts, _, g := runTestServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/stats", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats server.StatsResponse
	decode(t, resp, &stats)
	assert.Equal(t, g.Server().ID(), stats.ServerID)
	assert.Equal(t, "localhost:8080", stats.ServerName)
	assert.True(t, stats.Available)
	require.NotNil(t, stats.ActiveTasks)
	assert.Equal(t, int64(0), *stats.ActiveTasks)
	require.Len(t, stats.Queues, 2)
	assert.Equal(t, "qos", stats.Queues[0].Kind)
	assert.Equal(t, "fifo", stats.Queues[1].Kind)
}
