package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sf7293/taskq/configs"
	db2 "github.com/sf7293/taskq/db"
	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/durable"
	"github.com/sf7293/taskq/internal/postgres"
	"github.com/sf7293/taskq/internal/redis"
	"github.com/sf7293/taskq/internal/taskq"
	"github.com/sf7293/taskq/pkg/process"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
)

// Node is one server of a task store group: the durable queue group plus
// the connections it runs on.
type Node struct {
	Storage interface {
		domain.Storage
		Close()
	}
	Lock  domain.DistributedLock
	Group *durable.Group
}

// Migrate brings the task store schema up to date.
func Migrate(cfg configs.DatabaseConfig) error {
	d, err := iofs.New(db2.Migrations, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, cfg.ToMigrationUri())
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			slog.Error("error occurred while closing migrations", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	slog.Info("Migrations ran successfully")

	return nil
}

// Open connects to Postgres and, when enabled, Redis and builds the queue
// group. The group is not started.
func Open(ctx context.Context, cfg *configs.Config) (*Node, error) {
	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	slog.Info("Postgres connection has been initialized successfully")

	n := &Node{Storage: storage}
	if cfg.RedisConfig.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.RedisConfig.ToRedisConnectionUri())
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		n.Lock = redisClient
		slog.Info("Redis connection has been initialized successfully")
	}

	n.Group, err = NewGroup(storage, cfg, n.Lock)
	if err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

func (n *Node) Close() {
	if n.Lock != nil {
		if err := n.Lock.Close(); err != nil {
			slog.Error("An error occurred while closing Redis connection", "error", err.Error())
		}
	}
	n.Storage.Close()
}

// NewGroup creates the durable group with one queue per known process.
func NewGroup(storage domain.Storage, cfg *configs.Config, lock domain.DistributedLock) (*durable.Group, error) {
	name := durable.ServerName(cfg.Server.Host, cfg.Server.Port, cfg.Server.UseHostname)
	server := durable.NewServer(storage, name, cfg.Server.Group)

	var options []durable.Option
	if lock != nil {
		options = append(options, durable.WithDistributedLock(lock))
	}
	g := durable.NewGroup(storage, server, cfg.TaskQ.DurableOptions(), options...)

	factory := process.Factory(g, cfg.Queues.ProcessDelay(), process.WithMaxRetries(cfg.Queues.MaxRetries))
	for _, kind := range process.Kinds() {
		var q taskq.Queue
		if cfg.Queues.IsQos(kind) {
			q = taskq.NewQos(kind, factory,
				taskq.WithMaxConcurrent(cfg.Queues.MaxConcurrent),
				taskq.WithMaxConcurrentPerKey(cfg.Queues.MaxConcurrentPerKey))
		} else {
			q = taskq.NewFifo(kind, factory, taskq.WithMaxConcurrent(cfg.Queues.MaxConcurrent))
		}
		if err := g.AddQueue(q); err != nil {
			return nil, err
		}
	}

	return g, nil
}
