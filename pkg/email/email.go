package email

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrNoRecipient = errors.New("send_email: missing 'to' parameter")

type SendEmailTask struct {
	Delay time.Duration
}

// NewSendEmailTask returns a task that pretends to deliver a mail, taking
// delay to do so.
func NewSendEmailTask(delay time.Duration) SendEmailTask {
	return SendEmailTask{Delay: delay}
}

func (e SendEmailTask) Execute(ctx context.Context, params map[string]string) error {
	if params["to"] == "" {
		return ErrNoRecipient
	}
	slog.Info("send_email parameters:", "params", params)

	select {
	case <-time.After(e.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
