package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// StageQueues holds one bounded channel per stage plus the in-flight set
// that suppresses duplicate (item, stage) enqueues. An item is in flight
// from enqueue until its worker releases it, so at most one queue in the
// whole system holds a given item.
type StageQueues struct {
	mu       sync.Mutex
	queues   map[string]chan Job
	inflight map[string]string // item_id → stage
	capacity int
}

// NewStageQueues creates queues for the given stage names.
func NewStageQueues(stages []string, capacity int) *StageQueues {
	if capacity <= 0 {
		capacity = 64
	}
	q := &StageQueues{
		queues:   make(map[string]chan Job, len(stages)),
		inflight: make(map[string]string),
		capacity: capacity,
	}
	for _, s := range stages {
		q.queues[s] = make(chan Job, capacity)
	}
	return q
}

// Enqueue adds a job unless the item is already in flight or the stage
// queue is full. Callers enqueue in FIFO order by the item's updated_at;
// the channel preserves it.
func (q *StageQueues) Enqueue(itemID, stage string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.queues[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if current, busy := q.inflight[itemID]; busy {
		return fmt.Errorf("%w: %s is in %s", ErrInFlight, itemID, current)
	}

	select {
	case ch <- Job{ItemID: itemID, Stage: stage, EnqueuedAt: time.Now()}:
		q.inflight[itemID] = stage
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, stage)
	}
}

// Release removes the item from the in-flight set. Called by the worker
// after the job finishes, whatever the outcome.
func (q *StageQueues) Release(itemID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, itemID)
}

// InFlight reports whether the item is queued or running.
func (q *StageQueues) InFlight(itemID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inflight[itemID]
	return ok
}

// InFlightCount returns the size of the in-flight set.
func (q *StageQueues) InFlightCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// jobs returns the receive channel for a stage.
func (q *StageQueues) jobs(stage string) <-chan Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queues[stage]
}

// Depths returns per-stage queue depths, sorted by stage name.
func (q *StageQueues) Depths() []StageHealth {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]StageHealth, 0, len(q.queues))
	for stage, ch := range q.queues {
		out = append(out, StageHealth{Stage: stage, QueueDepth: len(ch), Capacity: q.capacity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// DrainPending discards queued (not yet running) jobs and releases their
// in-flight entries. Used at shutdown after discovery stops.
func (q *StageQueues) DrainPending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := 0
	for _, ch := range q.queues {
		draining := true
		for draining {
			select {
			case job := <-ch:
				delete(q.inflight, job.ItemID)
				dropped++
			default:
				draining = false
			}
		}
	}
	return dropped
}
