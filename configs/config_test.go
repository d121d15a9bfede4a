package configs

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))

	opts := cfg.TaskQ.DurableOptions()
	assert.Equal(t, 120*time.Second, opts.ExpireTime)
	assert.Equal(t, 5*time.Second, opts.ReloadInterval)
	assert.Equal(t, 3*time.Second, opts.HeartBeatInterval)
	assert.Equal(t, 30*time.Second, opts.FailOverTimeout)
	assert.Equal(t, 60*time.Second, opts.DbGracePeriod)
	assert.Equal(t, 20, opts.ReloadMinFreePercent)
	assert.Zero(t, opts.MaxSize)

	assert.Equal(t, 4, cfg.Queues.MaxConcurrent)
	assert.True(t, cfg.Queues.IsQos("run_query"))
	assert.False(t, cfg.Queues.IsQos("send_email"))
	assert.Equal(t, "default", cfg.Server.Group)
}

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("TASKQ_RELOAD_INTERVAL_MS", "250")
	t.Setenv("TASKQ_MAX_SIZE", "100")
	t.Setenv("TASKQ_NO_FAIL_OVER", "true")
	t.Setenv("QUEUE_QOS_NAMES", "a,b")

	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))

	opts := cfg.TaskQ.DurableOptions()
	assert.Equal(t, 250*time.Millisecond, opts.ReloadInterval)
	assert.Equal(t, 100, opts.MaxSize)
	assert.True(t, opts.NoFailOver)
	assert.True(t, cfg.Queues.IsQos("b"))
}

func TestConfig_Uris(t *testing.T) {
	db := DatabaseConfig{Username: "u", Password: "p", Host: "h", Port: "5432", Database: "d", SSLMode: "disable", PoolMaxConns: 2}
	assert.Equal(t, "pgx5://u:p@h:5432/d?sslmode=disable", db.ToMigrationUri())
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable&pool_max_conns=2", db.ToDbConnectionUri())

	redis := RedisConfig{Host: "r", Port: "6379", DBIndex: 1}
	assert.Equal(t, "redis://:@r:6379/1", redis.ToRedisConnectionUri())
}
