package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendEmailTask_Execute(t *testing.T) {
	task := NewSendEmailTask(50 * time.Millisecond)
	params := map[string]string{
		"to":      "user@example.com",
		"subject": "Test Email",
		"body":    "This is a test email.",
	}

	start := time.Now()
	err := task.Execute(context.Background(), params)

	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSendEmailTask_Execute_NoRecipient(t *testing.T) {
	err := NewSendEmailTask(0).Execute(context.Background(), map[string]string{"subject": "x"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestSendEmailTask_Execute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewSendEmailTask(time.Hour).Execute(ctx, map[string]string{"to": "user@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
}
