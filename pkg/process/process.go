package process

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sf7293/taskq/pkg/email"
	"github.com/sf7293/taskq/pkg/query"
)

const (
	SendEmail = "send_email"
	RunQuery  = "run_query"
)

var ErrUnknownProcess = errors.New("unrecognized task type")

type Process interface {
	Execute(ctx context.Context, params map[string]string) error
}

// Kinds lists the processes NewProcess knows, one queue is created per kind.
func Kinds() []string {
	return []string{SendEmail, RunQuery}
}

func NewProcess(kind string, delay time.Duration) (Process, error) {
	switch kind {
	case SendEmail:
		return email.NewSendEmailTask(delay), nil
	case RunQuery:
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		randomFunc := func() int {
			return r.Intn(100) + 1
		}
		return query.NewRunQueryTask(randomFunc, delay), nil
	default:
		return nil, fmt.Errorf("%s: %w", kind, ErrUnknownProcess)
	}
}

// isPermanent reports errors that no retry can fix.
func isPermanent(err error) bool {
	return errors.Is(err, email.ErrNoRecipient) || errors.Is(err, query.ErrNoQuery)
}
