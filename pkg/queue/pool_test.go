package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortsforge/shortsforge/pkg/config"
	"github.com/shortsforge/shortsforge/pkg/stage"
)

func TestEnqueueDeduplicates(t *testing.T) {
	q := NewStageQueues([]string{"scripting", "narrating"}, 4)

	require.NoError(t, q.Enqueue("I1", "scripting"))
	err := q.Enqueue("I1", "scripting")
	assert.ErrorIs(t, err, ErrInFlight)

	// Same item in a different stage is also suppressed: one worker per
	// item across the whole system.
	err = q.Enqueue("I1", "narrating")
	assert.ErrorIs(t, err, ErrInFlight)

	q.Release("I1")
	assert.NoError(t, q.Enqueue("I1", "narrating"))
}

func TestEnqueueBoundedCapacity(t *testing.T) {
	q := NewStageQueues([]string{"scripting"}, 2)
	require.NoError(t, q.Enqueue("I1", "scripting"))
	require.NoError(t, q.Enqueue("I2", "scripting"))
	err := q.Enqueue("I3", "scripting")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, q.InFlight("I3"), "rejected job must not stay in flight")
}

func TestEnqueueUnknownStage(t *testing.T) {
	q := NewStageQueues([]string{"scripting"}, 2)
	assert.Error(t, q.Enqueue("I1", "mixing"))
}

func TestDrainPendingReleasesItems(t *testing.T) {
	q := NewStageQueues([]string{"scripting"}, 8)
	for _, id := range []string{"I1", "I2", "I3"} {
		require.NoError(t, q.Enqueue(id, "scripting"))
	}
	dropped := q.DrainPending()
	assert.Equal(t, 3, dropped)
	assert.Zero(t, q.InFlightCount())
}

type recordingRunner struct {
	mu    sync.Mutex
	runs  []string
	delay time.Duration
	err   error

	active  atomic.Int32
	maxSeen atomic.Int32
}

func (r *recordingRunner) Run(ctx context.Context, itemID, stageName string) error {
	cur := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		prev := r.maxSeen.Load()
		if cur <= prev || r.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.runs = append(r.runs, itemID+"/"+stageName)
	r.mu.Unlock()
	return r.err
}

func (r *recordingRunner) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func testQueueConfig() config.QueueConfig {
	cfg := config.Default().Queue
	cfg.DrainTimeout = time.Second
	return cfg
}

func TestPoolProcessesJobs(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewPool(testQueueConfig(), stage.NewRegistry(), runner)
	pool.Start(context.Background())

	require.NoError(t, pool.Queues().Enqueue("I1", stage.Scripting))
	require.NoError(t, pool.Queues().Enqueue("I2", stage.Scripting))

	require.Eventually(t, func() bool {
		return len(runner.recorded()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop(time.Second)
	assert.ElementsMatch(t, []string{"I1/scripting", "I2/scripting"}, runner.recorded())
	assert.Zero(t, pool.Queues().InFlightCount())
}

func TestPoolBoundsParallelismPerStage(t *testing.T) {
	runner := &recordingRunner{delay: 50 * time.Millisecond}
	cfg := testQueueConfig()
	cfg.Workers = map[string]int{stage.Scripting: 2}
	pool := NewPool(cfg, stage.NewRegistry(), runner)
	pool.Start(context.Background())

	for _, id := range []string{"I1", "I2", "I3", "I4", "I5", "I6"} {
		require.NoError(t, pool.Queues().Enqueue(id, stage.Scripting))
	}
	require.Eventually(t, func() bool {
		return len(runner.recorded()) == 6
	}, 3*time.Second, 10*time.Millisecond)
	pool.Stop(time.Second)

	assert.LessOrEqual(t, runner.maxSeen.Load(), int32(2),
		"scripting pool must never exceed its configured size")
}

func TestPoolStopDropsQueuedFinishesRunning(t *testing.T) {
	runner := &recordingRunner{delay: 100 * time.Millisecond}
	cfg := testQueueConfig()
	cfg.Workers = map[string]int{stage.Scripting: 1}
	pool := NewPool(cfg, stage.NewRegistry(), runner)
	pool.Start(context.Background())

	require.NoError(t, pool.Queues().Enqueue("running", stage.Scripting))
	time.Sleep(20 * time.Millisecond) // let the worker pick it up
	require.NoError(t, pool.Queues().Enqueue("queued", stage.Scripting))

	pool.Stop(2 * time.Second)

	runs := runner.recorded()
	assert.Contains(t, runs, "running/scripting", "running job finishes during drain")
	assert.NotContains(t, runs, "queued/scripting", "queued job is dropped at shutdown")
}

func TestPoolHardCancelAfterDrainDeadline(t *testing.T) {
	runner := &recordingRunner{delay: 10 * time.Second}
	cfg := testQueueConfig()
	cfg.Workers = map[string]int{stage.Scripting: 1}
	pool := NewPool(cfg, stage.NewRegistry(), runner)
	pool.Start(context.Background())

	require.NoError(t, pool.Queues().Enqueue("slow", stage.Scripting))
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	pool.Stop(100 * time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second,
		"hard cancel must not wait for the job's full duration")
}

func TestPoolHealth(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewPool(testQueueConfig(), stage.NewRegistry(), runner)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	h := pool.Health()
	assert.True(t, h.Running)
	assert.Positive(t, h.TotalWorkers)
	assert.Len(t, h.Stages, len(stage.NewRegistry().Names()))
	for _, s := range h.Stages {
		assert.Positive(t, s.Workers, s.Stage)
	}
}
