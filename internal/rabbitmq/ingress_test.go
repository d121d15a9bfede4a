package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sf7293/taskq/internal/errval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stored struct {
	qname   string
	payload any
	qosKey  string
}

type fakeEnqueuer struct {
	tasks []stored
	err   error
}

func (f *fakeEnqueuer) StoreAndEnqueue(_ context.Context, qname string, payload any, qosKey string) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	f.tasks = append(f.tasks, stored{qname: qname, payload: payload, qosKey: qosKey})
	return int64(len(f.tasks)), true, nil
}

func TestIngress_Handle(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	ingress := NewIngress(context.Background(), enqueuer)

	require.NoError(t, ingress.Handle(`{"queue":"run_query","qos_key":"tenant-1","payload":"{\"query\":\"SELECT 1\"}"}`))
	require.Len(t, enqueuer.tasks, 1)
	assert.Equal(t, "run_query", enqueuer.tasks[0].qname)
	assert.Equal(t, "tenant-1", enqueuer.tasks[0].qosKey)
	assert.Equal(t, json.RawMessage(`{"query":"SELECT 1"}`), enqueuer.tasks[0].payload)
}

func TestIngress_DropsInvalidMessages(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	ingress := NewIngress(context.Background(), enqueuer)

	assert.NoError(t, ingress.Handle(`not json`))
	assert.NoError(t, ingress.Handle(`{"payload":"{}"}`))
	assert.NoError(t, ingress.Handle(`{"queue":"q","payload":"{broken"}`))
	assert.Empty(t, enqueuer.tasks)

	enqueuer.err = fmt.Errorf("store: %w", errval.ErrQueueNotFound)
	assert.NoError(t, ingress.Handle(`{"queue":"missing","payload":"{}"}`))
}

func TestIngress_StoreFailureIsRedelivered(t *testing.T) {
	boom := errors.New("connection refused")
	ingress := NewIngress(context.Background(), &fakeEnqueuer{err: boom})

	assert.ErrorIs(t, ingress.Handle(`{"queue":"q","payload":"{}"}`), boom)
}
