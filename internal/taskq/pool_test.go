package taskq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_ShutdownWaitsForRunning(t *testing.T) {
	p := NewPool()
	var finished atomic.Bool

	assert.True(t, p.Go(func(context.Context) {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}))

	assert.True(t, p.Shutdown(time.Second, time.Second))
	assert.True(t, finished.Load())
	assert.False(t, p.Go(func(context.Context) {}), "a shut down pool refuses work")
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool()
	p.Go(func(context.Context) { panic("boom") })

	assert.True(t, p.Shutdown(time.Second, time.Second))
	assert.Equal(t, 0, p.Active())
}

func TestPool_ShutdownCancelsAfterFinishTimeout(t *testing.T) {
	p := NewPool()
	p.Go(func(ctx context.Context) {
		<-ctx.Done()
	})

	start := time.Now()
	assert.True(t, p.Shutdown(20*time.Millisecond, time.Second))
	assert.Less(t, time.Since(start), time.Second)
}
