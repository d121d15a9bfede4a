package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sf7293/taskq/configs"
	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/metrics"
	"github.com/sf7293/taskq/internal/node"
	"github.com/sf7293/taskq/internal/rabbitmq"
)

var isReady atomic.Bool

// Pinger is a dependency checked by the liveness API.
type Pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg := configs.InitConfig()
	setupLogger(cfg.LogLevel)

	args := os.Args
	slog.Info("Running worker command", "args", args, "len_args", len(args))

	// The optional worker number keeps consumer names unique across workers
	consumerName := cfg.RabbitMQ.ConsumerName
	if len(args) > 1 {
		consumerName += ":" + strings.TrimSpace(args[1])
	}

	if err := node.Migrate(cfg.Database); err != nil {
		log.Fatal(err)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connecting is limited to cfg.ServerTimeOutInSeconds seconds
	ctx, cancel := context.WithTimeout(runCtx, time.Duration(cfg.ServerTimeOutInSeconds)*time.Second)
	defer cancel()

	n, err := node.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer n.Close()

	rabbitClient, err := rabbitmq.NewRabbitMQClient(runCtx, cfg.RabbitMQ.ToRabbitConnectionUri(), []string{cfg.RabbitMQ.IngressQueueName})
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = rabbitClient.Close()
		if err != nil {
			slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
		}
	}()
	slog.Info("RabbitMQ connection has been initialized successfully")

	if err := n.Group.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	prometheus.MustRegister(metrics.NewGroupCollector(n.Group, n.Group.Server().Available))

	var queue domain.Queue = rabbitClient
	ingress := rabbitmq.NewIngress(runCtx, n.Group)
	slog.Info("Creating consumer for RabbitMQ", "queue_name", cfg.RabbitMQ.IngressQueueName, "consumer_name", consumerName)
	err = queue.ConsumeMessages(consumerName, cfg.RabbitMQ.IngressQueueName, ingress.Handle)
	if err != nil {
		log.Fatalf("Failed to start consuming messages: %v", err)
	}
	isReady.Store(true)

	deps := []Pinger{n.Storage}
	if n.Lock != nil {
		deps = append(deps, n.Lock)
	}
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: setUpHealthCheckerAPIs(rabbitClient, deps...),
	}
	go func() {
		slog.Info("Starting health server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen failed", "error", err.Error())
		}
	}()

	slog.Info("Worker is running. To exit press CTRL+C", "consumer_name", consumerName, "server_id", n.Group.Server().ID())
	<-runCtx.Done()
	slog.Info("Worker is shutting down...", "consumer_name", consumerName)
	isReady.Store(false)

	finish, kill := cfg.TaskQ.StopTimeouts()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), finish)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health server forced to shutdown", "error", err.Error())
	}

	if !n.Group.Stop(finish, kill) {
		slog.Warn("queue group did not stop in time, unfinished tasks are reloaded by other servers")
	}
}

func setupLogger(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(h))
}

func setUpHealthCheckerAPIs(rabbitClient *rabbitmq.RabbitMQClient, deps ...Pinger) *gin.Engine {
	r := gin.Default()
	r.GET("/readiness", func(c *gin.Context) {
		if isReady.Load() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		for _, dep := range deps {
			if err := dep.Ping(c); err != nil {
				slog.Error("Dependency seem not to be pingable in liveness API", "error", err.Error())
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
				return
			}
		}

		if rabbitClient != nil && !rabbitClient.IsHealthy() {
			slog.Error("Rabbit is not healthy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
