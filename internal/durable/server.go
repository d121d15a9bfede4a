package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
)

const DefaultServerGroup = "default"

// Server is the registration of this process in the task store. It also
// tracks whether the task store was reachable on the last attempt.
type Server struct {
	storage domain.Storage
	name    string
	group   string

	id              atomic.Int64
	available       atomic.Bool
	lastAvailable   atomic.Int64
	lastUnavailable atomic.Int64
}

func NewServer(storage domain.Storage, name, group string) *Server {
	if group == "" {
		group = DefaultServerGroup
	}
	s := &Server{
		storage: storage,
		name:    name,
		group:   group,
	}
	s.id.Store(-1)
	now := time.Now().UnixNano()
	s.lastAvailable.Store(now)
	s.lastUnavailable.Store(now)

	return s
}

// ServerName builds the "host:port" name a server registers with. When
// useHostname is set the local host name replaces host.
func ServerName(host, port string, useHostname bool) string {
	if useHostname {
		if h, err := os.Hostname(); err != nil {
			slog.Warn("could not use local hostname as server name", "error", err.Error())
		} else {
			host = h
			slog.Info("found server host", "host", h)
		}
	}
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func (s *Server) ID() int64 {
	return s.id.Load()
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) Group() string {
	return s.group
}

func (s *Server) Available() bool {
	return s.available.Load()
}

func (s *Server) LastAvailable() time.Time {
	return time.Unix(0, s.lastAvailable.Load())
}

func (s *Server) LastUnavailable() time.Time {
	return time.Unix(0, s.lastUnavailable.Load())
}

// MarkActive records a successful heartbeat, the task store is reachable.
func (s *Server) MarkActive() {
	s.setAvailable(true)
}

func (s *Server) setAvailable(available bool) {
	s.available.Store(available)
	if available {
		s.lastAvailable.Store(time.Now().UnixNano())
	} else {
		s.lastUnavailable.Store(time.Now().UnixNano())
	}
}

// Register finds the server row by name and group, or inserts it, and marks
// the task store available. On failure the store is marked unavailable.
func (s *Server) Register(ctx context.Context) error {
	rec, exists, err := s.register(ctx)
	if err != nil {
		s.setAvailable(false)
		return fmt.Errorf("register server %s in group %s: %w", s.name, s.group, err)
	}

	s.id.Store(rec.ID)
	s.setAvailable(true)
	if exists {
		slog.Info("updated server", "server_id", rec.ID, "name", s.name, "group", s.group)
	} else {
		slog.Info("registered server", "server_id", rec.ID, "name", s.name, "group", s.group)
	}

	return nil
}

func (s *Server) register(ctx context.Context) (*domain.ServerRecord, bool, error) {
	now := time.Now()

	rec, err := s.storage.FindServer(ctx, s.name, s.group)
	if err == nil {
		if _, err := s.storage.UpdateServerActive(ctx, rec.ID, now); err != nil {
			return nil, true, err
		}
		return rec, true, nil
	}
	if !errors.Is(err, errval.ErrNotFound) {
		return nil, false, err
	}

	rec, err = s.storage.InsertServer(ctx, s.name, s.group, now)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}
