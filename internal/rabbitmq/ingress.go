package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
)

// Enqueuer stores a task and hands it to the local dispatcher.
type Enqueuer interface {
	StoreAndEnqueue(ctx context.Context, qname string, payload any, qosKey string) (int64, bool, error)
}

// Ingress turns broker messages into durable tasks.
type Ingress struct {
	ctx      context.Context
	enqueuer Enqueuer
}

func NewIngress(ctx context.Context, enqueuer Enqueuer) *Ingress {
	return &Ingress{ctx: ctx, enqueuer: enqueuer}
}

// Handle stores the task in body. Malformed messages and unknown queues are
// dropped, store failures are returned so the broker redelivers.
func (i *Ingress) Handle(body string) error {
	var msg domain.IngressMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		slog.Error("dropping malformed ingress message", "error", err.Error())
		return nil
	}
	if msg.Queue == "" || !json.Valid([]byte(msg.Payload)) {
		slog.Error("dropping invalid ingress message", "queue", msg.Queue)
		return nil
	}

	taskID, queued, err := i.enqueuer.StoreAndEnqueue(i.ctx, msg.Queue, json.RawMessage(msg.Payload), msg.QosKey)
	if errors.Is(err, errval.ErrQueueNotFound) {
		slog.Error("dropping ingress message for unknown queue", "queue", msg.Queue)
		return nil
	}
	if err != nil {
		return fmt.Errorf("store ingress task for queue %s: %w", msg.Queue, err)
	}

	slog.Info("ingress task stored", "task_id", taskID, "queue", msg.Queue, "qos_key", msg.QosKey, "queued", queued)
	return nil
}
