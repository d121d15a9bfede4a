package configs

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sf7293/taskq/internal/durable"
)

type Config struct {
	LogLevel               string `envconfig:"LOG_LEVEL" default:"info"`
	ServerTimeOutInSeconds int64  `envconfig:"SERVER_TIME_OUT_IN_SECONDS" default:"5"`
	Server                 ServerConfig
	Database               DatabaseConfig
	RabbitMQ               RabbitMQConfig
	RedisConfig            RedisConfig
	TaskQ                  TaskQConfig
	Queues                 QueuesConfig
}

type ServerConfig struct {
	Host        string `envconfig:"SERVER_HOST" default:"localhost"`
	Port        string `envconfig:"SERVER_PORT" default:"8080"`
	Group       string `envconfig:"SERVER_GROUP" default:"default"`
	UseHostname bool   `envconfig:"SERVER_USE_HOSTNAME" default:"false"`
}

type DatabaseConfig struct {
	Username     string `envconfig:"DB_USERNAME"`
	Password     string `envconfig:"DB_PASSWORD"`
	Host         string `envconfig:"DB_HOST"`
	Port         string `envconfig:"DB_PORT"`
	Database     string `envconfig:"DB_DATABASE"`
	SSLMode      string `envconfig:"DB_SSL_MODE" default:"require"`
	PoolMaxConns int    `envconfig:"DB_POOL_MAX_CONNS" default:"4"`
}

type RabbitMQConfig struct {
	Username         string `envconfig:"RABBIT_USERNAME"`
	Password         string `envconfig:"RABBIT_PASSWORD"`
	Host             string `envconfig:"RABBIT_HOST"`
	Port             string `envconfig:"RABBIT_PORT"`
	IngressQueueName string `envconfig:"RABBIT_INGRESS_QUEUE_NAME" default:"taskq.ingress"`
	ConsumerName     string `envconfig:"RABBIT_CONSUMER_NAME" default:"taskq-worker"`
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Username string `envconfig:"REDIS_USERNAME"`
	Password string `envconfig:"REDIS_PASSWORD"`
	Host     string `envconfig:"REDIS_HOST"`
	Port     string `envconfig:"REDIS_PORT"`
	DBIndex  int32  `envconfig:"REDIS_DB_INDEX"`
}

type TaskQConfig struct {
	ExpireTimeSeconds        int  `envconfig:"TASKQ_EXPIRE_TIME_SECONDS" default:"120"`
	ReloadIntervalMs         int  `envconfig:"TASKQ_RELOAD_INTERVAL_MS" default:"5000"`
	HeartBeatIntervalMs      int  `envconfig:"TASKQ_HEART_BEAT_INTERVAL_MS" default:"3000"`
	FailOverTimeoutSeconds   int  `envconfig:"TASKQ_FAIL_OVER_TIMEOUT_SECONDS" default:"30"`
	DbGracePeriodSeconds     int  `envconfig:"TASKQ_DB_GRACE_PERIOD_SECONDS" default:"60"`
	MaxSize                  int  `envconfig:"TASKQ_MAX_SIZE" default:"0"`
	MaxSizePerQueue          int  `envconfig:"TASKQ_MAX_SIZE_PER_QUEUE" default:"0"`
	DbReloadMinFreePercent   int  `envconfig:"TASKQ_DB_RELOAD_MIN_FREE_PERCENT" default:"20"`
	DbReloadMaxAmountPerPass int  `envconfig:"TASKQ_DB_RELOAD_MAX_AMOUNT_PER_PASS" default:"0"`
	DbReloadLogAmount        int  `envconfig:"TASKQ_DB_RELOAD_LOG_AMOUNT" default:"0"`
	NoFailOver               bool `envconfig:"TASKQ_NO_FAIL_OVER" default:"false"`
	NoHeartBeatPause         bool `envconfig:"TASKQ_NO_HEART_BEAT_PAUSE" default:"false"`
	StopFinishTimeoutSeconds int  `envconfig:"TASKQ_STOP_FINISH_TIMEOUT_SECONDS" default:"5"`
	StopKillTimeoutSeconds   int  `envconfig:"TASKQ_STOP_KILL_TIMEOUT_SECONDS" default:"2"`
}

type QueuesConfig struct {
	MaxConcurrent       int      `envconfig:"QUEUE_MAX_CONCURRENT" default:"4"`
	MaxConcurrentPerKey int      `envconfig:"QUEUE_MAX_CONCURRENT_PER_QOS_KEY" default:"0"`
	QosQueues           []string `envconfig:"QUEUE_QOS_NAMES" default:"run_query"`
	MaxRetries          int32    `envconfig:"TASK_MAX_RETRIES" default:"3"`
	ProcessDelayMs      int      `envconfig:"TASK_PROCESS_DELAY_MS" default:"3000"`
}

// DurableOptions converts the TASKQ_* settings to durable group options.
func (t TaskQConfig) DurableOptions() durable.Options {
	return durable.Options{
		ExpireTime:             time.Duration(t.ExpireTimeSeconds) * time.Second,
		ReloadInterval:         time.Duration(t.ReloadIntervalMs) * time.Millisecond,
		HeartBeatInterval:      time.Duration(t.HeartBeatIntervalMs) * time.Millisecond,
		FailOverTimeout:        time.Duration(t.FailOverTimeoutSeconds) * time.Second,
		DbGracePeriod:          time.Duration(t.DbGracePeriodSeconds) * time.Second,
		MaxSize:                t.MaxSize,
		MaxSizePerQueue:        t.MaxSizePerQueue,
		ReloadMinFreePercent:   t.DbReloadMinFreePercent,
		ReloadMaxAmountPerPass: t.DbReloadMaxAmountPerPass,
		ReloadLogAmount:        t.DbReloadLogAmount,
		NoFailOver:             t.NoFailOver,
		NoHeartBeatPause:       t.NoHeartBeatPause,
	}
}

func (t TaskQConfig) StopTimeouts() (finish, kill time.Duration) {
	return time.Duration(t.StopFinishTimeoutSeconds) * time.Second, time.Duration(t.StopKillTimeoutSeconds) * time.Second
}

func (q QueuesConfig) ProcessDelay() time.Duration {
	return time.Duration(q.ProcessDelayMs) * time.Millisecond
}

// IsQos reports whether the queue named qname gets QoS round robin.
func (q QueuesConfig) IsQos(qname string) bool {
	for _, name := range q.QosQueues {
		if name == qname {
			return true
		}
	}
	return false
}

// ToMigrationUri returns a string specifically for the migration package with the right prefix
func (d DatabaseConfig) ToMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
	)
}

// ToDbConnectionUri returns a connection URI to be used with the pgx package
func (d DatabaseConfig) ToDbConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// ToRabbitConnectionUri returns a connection URI to be used with the rabbitmq/amqp091-go package
func (d RabbitMQConfig) ToRabbitConnectionUri() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
	)
}

// ToRedisConnectionUri returns a connection URI to be used with the redis/go-redis/v9 package
func (d RedisConfig) ToRedisConnectionUri() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DBIndex,
	)
}

func InitConfig() *Config {
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("Unable to load .env %v", err)
	}

	var cfg Config
	err = envconfig.Process("", &cfg)
	if err != nil {
		log.Fatalf("Cannot load env %v", err)
	}

	return &cfg
}
