package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sf7293/taskq/configs"
	"github.com/sf7293/taskq/internal/node"
)

const drainCheckInterval = time.Second

// Takes over the tasks of the given dead servers, runs them to the end and
// exits. Usage: recovery <dead_server_id>...
func main() {
	cfg := configs.InitConfig()
	args := os.Args
	if len(args) < 2 {
		log.Fatal("Insufficient arguments are provided in calling the command")
		return
	}

	deadServerIDs := make([]int64, 0, len(args)-1)
	for _, arg := range args[1:] {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			log.Fatal("Invalid input is given for the dead server id arg, it must be an integer", "provided_id", arg, "error", err)
			return
		}
		deadServerIDs = append(deadServerIDs, id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := node.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer n.Close()

	if err := n.Group.Start(ctx); err != nil {
		log.Fatal(err)
	}
	finish, kill := cfg.TaskQ.StopTimeouts()
	defer n.Group.Stop(finish, kill)

	takenOver := 0
	for _, id := range deadServerIDs {
		ok, err := n.Group.FailOver().TakeOver(ctx, id)
		if err != nil {
			slog.Error("Error occurred while taking over dead server", "dead_server_id", id, "error", err.Error())
			continue
		}
		if ok {
			takenOver++
		}
	}
	slog.Info("Dead servers are taken over", "requested_count", len(deadServerIDs), "taken_over_count", takenOver, "server_id", n.Group.Server().ID())

	// Taken over tasks come in through the expired task reload
	drain(ctx, n)
}

func drain(ctx context.Context, n *node.Node) {
	ticker := time.NewTicker(drainCheckInterval)
	defer ticker.Stop()

	for {
		count, err := n.Group.ActiveTasksCount(ctx)
		if err != nil {
			slog.Error("Error occurred while counting active tasks", "error", err.Error())
		} else if count == 0 {
			slog.Info("All taken over tasks are done")
			return
		} else {
			slog.Info("Waiting for taken over tasks", "active_tasks", count, "in_system", n.Group.Size())
		}

		select {
		case <-ctx.Done():
			slog.Info("Recovery is interrupted, remaining tasks are left to other servers")
			return
		case <-ticker.C:
		}
	}
}
