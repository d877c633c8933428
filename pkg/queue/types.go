// Package queue implements per-stage bounded work queues and worker pools.
// Duplicate (item, stage) enqueues are suppressed by an in-flight set, and
// per-item execution exclusion is enforced downstream by the item locks.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull is returned when a stage queue is at capacity.
var ErrQueueFull = errors.New("stage queue full")

// ErrInFlight is returned when the item is already queued or running.
var ErrInFlight = errors.New("item already in flight")

// JobRunner executes one stage for one item: claim, adapter execution, and
// commit. Implemented by the supervisor's dispatcher.
type JobRunner interface {
	Run(ctx context.Context, itemID, stage string) error
}

// Job is one queued unit of work.
type Job struct {
	ItemID     string
	Stage      string
	EnqueuedAt time.Time
}

// WorkerStatus is a worker's current state.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Stage         string       `json:"stage"`
	Status        WorkerStatus `json:"status"`
	CurrentItemID string       `json:"current_item_id,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	JobsFailed    int          `json:"jobs_failed"`
	LastActivity  time.Time    `json:"last_activity"`
}

// StageHealth is one stage queue's health snapshot.
type StageHealth struct {
	Stage      string `json:"stage"`
	QueueDepth int    `json:"queue_depth"`
	Capacity   int    `json:"capacity"`
	Workers    int    `json:"workers"`
}

// PoolHealth is the whole pool's health snapshot.
type PoolHealth struct {
	Running       bool           `json:"running"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	InFlight      int            `json:"in_flight"`
	Stages        []StageHealth  `json:"stages"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}
