package main

import (
	"context"
	"encoding/json"
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
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sf7293/taskq/configs"
	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
	"github.com/sf7293/taskq/internal/metrics"
	"github.com/sf7293/taskq/internal/node"
	"github.com/sf7293/taskq/internal/server"
)

const maxQosKeyLength = 255

var isReady atomic.Bool

func main() {
	cfg := configs.InitConfig()
	setupLogger(cfg.LogLevel)

	if err := node.Migrate(cfg.Database); err != nil {
		log.Fatal(err)
	}

	// Connecting is limited to cfg.ServerTimeOutInSeconds seconds
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerTimeOutInSeconds)*time.Second)
	defer cancel()

	n, err := node.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer n.Close()

	if err := n.Group.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	prometheus.MustRegister(metrics.NewGroupCollector(n.Group, n.Group.Server().Available))
	isReady.Store(true)

	router := setupHTTPServer(server.NewServerLogic(n.Storage, n.Group))
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling below
	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port, "server_id", n.Group.Server().ID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen failed", "error", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")
	isReady.Store(false)

	finish, kill := cfg.TaskQ.StopTimeouts()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), finish)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err.Error())
	}

	if !n.Group.Stop(finish, kill) {
		slog.Warn("queue group did not stop in time, unfinished tasks are reloaded by other servers")
	}
	slog.Info("Server exiting")
}

func setupLogger(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(h))
}

func setupHTTPServer(serverLogic *server.ServerLogic) *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_payload", validatePayload)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_payload")
		}

		err = v.RegisterValidation("validate_qos_key", validateQosKey)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_qos_key")
		}
	}

	queues := r.Group("/queues/:name")
	queues.POST("/tasks", func(c *gin.Context) {
		req := domain.RouterRequestAddTask{}
		// Request binding and validation
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		resp, err := serverLogic.AddTask(c, c.Param("name"), req)
		if err != nil {
			if errors.Is(err, errval.ErrQueueNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		status := http.StatusOK
		if !resp.Queued {
			status = http.StatusAccepted
		}
		c.JSON(status, resp)
	})
	queues.POST("/pause", queuePauseHandler(serverLogic, true))
	queues.POST("/resume", queuePauseHandler(serverLogic, false))

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, serverLogic.Stats(c))
	})
	r.POST("/pause", func(c *gin.Context) {
		serverLogic.SetPaused(true)
		c.JSON(http.StatusOK, gin.H{"paused": true})
	})
	r.POST("/resume", func(c *gin.Context) {
		serverLogic.SetPaused(false)
		c.JSON(http.StatusOK, gin.H{"paused": false})
	})

	r.GET("/readiness", func(c *gin.Context) {
		if isReady.Load() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		// Checking health of depending upon infra connections
		err := serverLogic.Ping(c)
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func queuePauseHandler(serverLogic *server.ServerLogic, paused bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		qname := c.Param("name")
		if err := serverLogic.SetQueuePaused(qname, paused); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"queue": qname, "paused": paused})
	}
}

var validatePayload validator.Func = func(fl validator.FieldLevel) bool {
	payloadStr := fl.Field().String()
	if payloadStr == "null" {
		return false
	}

	unmarshalledPayload := map[string]string{}
	err := json.Unmarshal([]byte(payloadStr), &unmarshalledPayload)
	if err != nil {
		slog.Error("An error occurred while unmarshalling payload to map[string]string", "error", err.Error())
		return false
	}

	return len(unmarshalledPayload) > 0
}

var validateQosKey validator.Func = func(fl validator.FieldLevel) bool {
	qosKey := fl.Field().String()
	if len(qosKey) > maxQosKeyLength {
		return false
	}

	return strings.IndexFunc(qosKey, unicode.IsSpace) < 0
}
