package poll

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sf7293/taskq/internal/domain"
)

const DefaultHeartBeatInterval = 3 * time.Second

// HeartBeat keeps the server's last active date fresh and tracks whether the
// task store is reachable. While it is not, the dispatcher is paused.
type HeartBeat struct {
	storage    domain.Storage
	server     Server
	dispatcher Dispatcher
	interval   time.Duration
	noPause    bool

	pausedByHeartBeat atomic.Bool
}

func NewHeartBeat(storage domain.Storage, server Server, dispatcher Dispatcher, interval time.Duration, noPause bool) *HeartBeat {
	if interval <= 0 {
		interval = DefaultHeartBeatInterval
	}
	return &HeartBeat{
		storage:    storage,
		server:     server,
		dispatcher: dispatcher,
		interval:   interval,
		noPause:    noPause,
	}
}

func (h *HeartBeat) Name() string {
	return "heartbeat"
}

func (h *HeartBeat) Interval() time.Duration {
	return h.interval
}

// PausedByHeartBeat reports whether the current pause of the dispatcher was
// caused by an unavailable task store.
func (h *HeartBeat) PausedByHeartBeat() bool {
	return h.pausedByHeartBeat.Load()
}

func (h *HeartBeat) Poll(ctx context.Context) error {
	wasAvailable := h.server.Available()

	rows, err := h.storage.UpdateServerActive(ctx, h.server.ID(), time.Now())
	if err == nil && rows == 1 {
		h.server.MarkActive()
		slog.Debug("updated last active date", "server_id", h.server.ID())
	} else {
		if wasAvailable {
			reason := "no server row updated"
			if err != nil {
				reason = err.Error()
			}
			slog.Info("last active date could not be updated", "server_id", h.server.ID(), "reason", reason)
		}

		if err := h.server.Register(ctx); err != nil {
			if wasAvailable {
				slog.Error("task store unavailable, could not register server", "server_id", h.server.ID(), "error", err.Error())
			} else {
				slog.Debug("task store remains unavailable")
			}
		}
	}

	available := h.server.Available()
	switch {
	case available && !wasAvailable:
		if h.pausedByHeartBeat.Swap(false) {
			slog.Info("task store available, continuing task execution")
			h.dispatcher.SetPaused(false)
		} else {
			slog.Info("task store available")
		}
	case !available && wasAvailable:
		if h.dispatcher.Paused() {
			h.pausedByHeartBeat.Store(false)
		} else if !h.noPause {
			h.dispatcher.SetPaused(true)
			h.pausedByHeartBeat.Store(true)
			slog.Info("task execution paused, waiting for task store to become available")
		}
	}

	return nil
}
