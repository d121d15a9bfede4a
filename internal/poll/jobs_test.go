package poll_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/durable"
	"github.com/sf7293/taskq/internal/memstore"
	"github.com/sf7293/taskq/internal/poll"
	"github.com/sf7293/taskq/internal/taskq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	mu      sync.Mutex
	calls   map[int64]int
	release chan struct{}
}

func newCountingHandler(block bool) *countingHandler {
	h := &countingHandler{calls: map[int64]int{}}
	if block {
		h.release = make(chan struct{})
	}
	return h
}

func (h *countingHandler) OnTask(_ context.Context, _ any, _, _ string, taskID int64) error {
	h.mu.Lock()
	h.calls[taskID]++
	h.mu.Unlock()

	if h.release != nil {
		<-h.release
	}
	return nil
}

func (h *countingHandler) count(taskID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[taskID]
}

// newGroup builds a durable group whose poller is never started, jobs are
// driven by calling Poll directly.
func newGroup(t *testing.T, store *memstore.Store, name string, opts durable.Options, h taskq.Handler) *durable.Group {
	t.Helper()

	g := durable.NewGroup(store, durable.NewServer(store, name, "test"), opts)
	require.NoError(t, g.AddQueue(taskq.NewFifo("work", taskq.Singleton(h))))
	require.NoError(t, g.Server().Register(context.Background()))
	g.Group.Start(context.Background())
	t.Cleanup(func() {
		g.Group.Stop(time.Second, time.Second)
	})

	return g
}

func storeOnly(t *testing.T, g *durable.Group, payload any) int64 {
	t.Helper()
	ctx := context.Background()

	var entry *taskq.Entry
	require.NoError(t, g.InTx(ctx, func(tx domain.StorageTx) (err error) {
		entry, err = g.StoreTask(ctx, tx, "work", payload, "")
		return err
	}))
	return entry.TaskID
}

func reloadJob(g *durable.Group, store *memstore.Store) *poll.LoadExpired {
	o := g.Options()
	return poll.NewLoadExpired(store, g.Server(), g, poll.LoadExpiredConfig{
		ExpireTime:       o.ExpireTime,
		MaxSize:          o.MaxSize,
		MaxSizePerQueue:  o.MaxSizePerQueue,
		MinFreePercent:   o.ReloadMinFreePercent,
		MaxAmountPerPass: o.ReloadMaxAmountPerPass,
		LogAmount:        o.ReloadLogAmount,
	})
}

func TestLoadExpired_ReloadsLostTask(t *testing.T) {
	store := memstore.New()
	h := newCountingHandler(false)
	g := newGroup(t, store, "a:1", durable.DefaultOptions(), h)

	id := storeOnly(t, g, "lost")
	require.True(t, store.SetTaskExpireAt(id, time.Now().Add(-time.Second)))

	require.NoError(t, reloadJob(g, store).Poll(context.Background()))
	require.True(t, g.AwaitAllDoneTimeout(2*time.Second))
	assert.Equal(t, 1, h.count(id))

	rec, _ := store.Task(id)
	assert.True(t, rec.ExpireAt.After(time.Now()), "lease was refreshed")
}

func TestLoadExpired_OnlyTouchesResidentTask(t *testing.T) {
	store := memstore.New()
	h := newCountingHandler(true)
	g := newGroup(t, store, "a:1", durable.DefaultOptions(), h)

	id, queued, err := g.StoreAndEnqueue(context.Background(), "work", "slow", "")
	require.NoError(t, err)
	require.True(t, queued)
	require.Eventually(t, func() bool { return h.count(id) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, store.SetTaskExpireAt(id, time.Now().Add(-time.Second)))
	job := reloadJob(g, store)
	require.NoError(t, job.Poll(context.Background()))
	require.NoError(t, job.Poll(context.Background()))

	assert.Equal(t, int64(1), g.TasksAdded(), "resident task is not enqueued twice")
	rec, _ := store.Task(id)
	assert.True(t, rec.ExpireAt.After(time.Now()))

	close(h.release)
	require.True(t, g.AwaitAllDoneTimeout(2*time.Second))
	assert.Equal(t, 1, h.count(id))
}

func TestLoadExpired_SkipsPaused(t *testing.T) {
	store := memstore.New()
	h := newCountingHandler(false)
	opts := durable.DefaultOptions()
	opts.MaxSize = 10
	opts.ReloadMinFreePercent = 20
	g := newGroup(t, store, "a:1", opts, h)
	job := reloadJob(g, store)

	id := storeOnly(t, g, "x")
	store.SetTaskExpireAt(id, time.Now().Add(-time.Second))

	g.SetPaused(true)
	require.NoError(t, job.Poll(context.Background()))
	assert.Equal(t, int64(0), g.TasksAdded())
	g.SetPaused(false)

	g.SetQueuePaused("work", true)
	require.NoError(t, job.Poll(context.Background()))
	assert.Equal(t, int64(0), g.TasksAdded())
	g.SetQueuePaused("work", false)

	require.NoError(t, job.Poll(context.Background()))
	assert.Equal(t, int64(1), g.TasksAdded())
}

func TestLoadExpired_KeepsFreeRoom(t *testing.T) {
	store := memstore.New()
	h := newCountingHandler(true)
	opts := durable.DefaultOptions()
	opts.MaxSize = 5
	opts.ReloadMinFreePercent = 20
	g := newGroup(t, store, "a:1", opts, h)
	defer close(h.release)

	for i := 0; i < 4; i++ {
		_, queued, err := g.StoreAndEnqueue(context.Background(), "work", i, "")
		require.NoError(t, err)
		require.True(t, queued)
	}

	id := storeOnly(t, g, "waiting")
	store.SetTaskExpireAt(id, time.Now().Add(-time.Second))

	require.NoError(t, reloadJob(g, store).Poll(context.Background()))
	assert.Equal(t, int64(4), g.TasksAdded(), "one slot stays free for new tasks")
	assert.False(t, g.ContainsTask(id))
}

func TestLoadExpired_MaxAmountPerPass(t *testing.T) {
	store := memstore.New()
	h := newCountingHandler(false)
	opts := durable.DefaultOptions()
	opts.ReloadMaxAmountPerPass = 2
	g := newGroup(t, store, "a:1", opts, h)

	for i := 0; i < 5; i++ {
		id := storeOnly(t, g, i)
		store.SetTaskExpireAt(id, time.Now().Add(-time.Second))
	}

	job := reloadJob(g, store)
	require.NoError(t, job.Poll(context.Background()))
	assert.Equal(t, int64(2), g.TasksAdded())

	require.NoError(t, job.Poll(context.Background()))
	assert.Equal(t, int64(4), g.TasksAdded())
}

func TestHeartBeat_PausesWhileStoreUnavailable(t *testing.T) {
	store := memstore.New()
	g := newGroup(t, store, "a:1", durable.DefaultOptions(), newCountingHandler(false))
	hb := g.HeartBeat()
	ctx := context.Background()

	require.NoError(t, hb.Poll(ctx))
	assert.True(t, g.Server().Available())
	assert.False(t, g.Paused())

	store.SetAvailable(false)
	require.NoError(t, hb.Poll(ctx))
	assert.False(t, g.Server().Available())
	assert.True(t, g.Paused())
	assert.True(t, hb.PausedByHeartBeat())

	store.SetAvailable(true)
	require.NoError(t, hb.Poll(ctx))
	assert.True(t, g.Server().Available())
	assert.False(t, g.Paused())
	assert.False(t, hb.PausedByHeartBeat())
}

func TestHeartBeat_KeepsOperatorPause(t *testing.T) {
	store := memstore.New()
	g := newGroup(t, store, "a:1", durable.DefaultOptions(), newCountingHandler(false))
	hb := g.HeartBeat()
	ctx := context.Background()

	g.SetPaused(true)
	store.SetAvailable(false)
	require.NoError(t, hb.Poll(ctx))
	assert.False(t, hb.PausedByHeartBeat())

	store.SetAvailable(true)
	require.NoError(t, hb.Poll(ctx))
	assert.True(t, g.Paused(), "pause set by someone else is left alone")
}

func TestHeartBeat_NoPause(t *testing.T) {
	store := memstore.New()
	opts := durable.DefaultOptions()
	opts.NoHeartBeatPause = true
	g := newGroup(t, store, "a:1", opts, newCountingHandler(false))

	store.SetAvailable(false)
	require.NoError(t, g.HeartBeat().Poll(context.Background()))
	assert.False(t, g.Server().Available())
	assert.False(t, g.Paused())
}

func TestHeartBeat_ReRegistersMissingRow(t *testing.T) {
	store := memstore.New()
	server := durable.NewServer(store, "a:1", "test")
	g := durable.NewGroup(store, server, durable.DefaultOptions())

	require.NoError(t, g.HeartBeat().Poll(context.Background()))
	assert.True(t, server.Available())
	assert.Greater(t, server.ID(), int64(0))
}

func deadServerWithTasks(t *testing.T, store *memstore.Store, tasks int) *durable.Group {
	t.Helper()

	dead := newGroup(t, store, "dead:1", durable.DefaultOptions(), newCountingHandler(false))
	for i := 0; i < tasks; i++ {
		id := storeOnly(t, dead, i)
		store.SetTaskExpireAt(id, time.Now().Add(-time.Second))
	}
	store.SetServerLastActive(dead.Server().ID(), time.Now().Add(-time.Hour))

	return dead
}

func failOverJob(g *durable.Group, store *memstore.Store, lock domain.DistributedLock) *poll.FailOver {
	return poll.NewFailOver(store, g.Server(), lock, poll.FailOverConfig{Timeout: time.Minute})
}

func TestFailOver_RaceHasOneWinner(t *testing.T) {
	store := memstore.New()
	dead := deadServerWithTasks(t, store, 3)
	a := newGroup(t, store, "a:1", durable.DefaultOptions(), newCountingHandler(false))
	b := newGroup(t, store, "b:1", durable.DefaultOptions(), newCountingHandler(false))

	jobs := []*poll.FailOver{failOverJob(a, store, nil), failOverJob(b, store, nil)}
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, job := range jobs {
		wg.Add(1)
		go func(job *poll.FailOver) {
			defer wg.Done()
			<-start
			won, err := job.TakeOver(context.Background(), dead.Server().ID())
			assert.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}(job)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	srv, _ := store.Server(dead.Server().ID())
	assert.True(t, srv.Abandoned)

	countA, _ := a.ActiveTasksCount(context.Background())
	countB, _ := b.ActiveTasksCount(context.Background())
	assert.Equal(t, int64(3), countA+countB)
	assert.True(t, countA == 0 || countB == 0, "tasks move to the winner only")
}

func TestFailOver_TakenOverTasksAreReloaded(t *testing.T) {
	store := memstore.New()
	dead := deadServerWithTasks(t, store, 2)
	h := newCountingHandler(false)
	a := newGroup(t, store, "a:1", durable.DefaultOptions(), h)

	require.NoError(t, failOverJob(a, store, nil).Poll(context.Background()))
	countDead, _ := dead.ActiveTasksCount(context.Background())
	assert.Equal(t, int64(0), countDead)

	require.NoError(t, reloadJob(a, store).Poll(context.Background()))
	require.True(t, a.AwaitAllDoneTimeout(2*time.Second))
	assert.Equal(t, int64(2), a.TasksDone())
}

func TestFailOver_SkipsDuringGracePeriod(t *testing.T) {
	store := memstore.New()
	dead := deadServerWithTasks(t, store, 1)
	a := newGroup(t, store, "a:1", durable.DefaultOptions(), newCountingHandler(false))

	job := poll.NewFailOver(store, a.Server(), nil, poll.FailOverConfig{Timeout: time.Minute, GracePeriod: time.Hour})
	require.NoError(t, job.Poll(context.Background()))

	srv, _ := store.Server(dead.Server().ID())
	assert.False(t, srv.Abandoned)
	assert.Equal(t, 30*time.Second, job.Interval())
}

type fakeLock struct {
	mu     sync.Mutex
	held   map[string]bool
	failed bool
}

func (l *fakeLock) Ping(context.Context) error { return nil }
func (l *fakeLock) Close() error                { return nil }

func (l *fakeLock) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLock) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func TestFailOver_PreLockHeldElsewhere(t *testing.T) {
	store := memstore.New()
	dead := deadServerWithTasks(t, store, 1)
	a := newGroup(t, store, "a:1", durable.DefaultOptions(), newCountingHandler(false))

	lock := &fakeLock{held: map[string]bool{}}
	_, err := lock.Lock(context.Background(), "taskq:fail-over:1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), dead.Server().ID())

	won, err := failOverJob(a, store, lock).TakeOver(context.Background(), dead.Server().ID())
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, lock.Unlock(context.Background(), "taskq:fail-over:1"))
	won, err = failOverJob(a, store, lock).TakeOver(context.Background(), dead.Server().ID())
	require.NoError(t, err)
	assert.True(t, won)
	assert.Empty(t, lock.held, "pre-lock is released after the takeover")
}
