package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shortsforge/shortsforge/pkg/config"
	"github.com/shortsforge/shortsforge/pkg/stage"
)

// Pool owns the per-stage worker pools. Worker counts come from config
// (generation stages parallelize, media stages do not), and every job
// context is linked to the pool's run context so
// shutdown cancels in-flight external calls and child processes.
type Pool struct {
	cfg      config.QueueConfig
	registry *stage.Registry
	runner   JobRunner
	queues   *StageQueues

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewPool creates the pool and its stage queues.
func NewPool(cfg config.QueueConfig, registry *stage.Registry, runner JobRunner) *Pool {
	return &Pool{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		queues:   NewStageQueues(registry.Names(), cfg.QueueCapacity),
		stopCh:   make(chan struct{}),
	}
}

// Queues exposes the stage queues for the discovery scanner.
func (p *Pool) Queues() *StageQueues { return p.queues }

// Start spawns the per-stage workers. Safe to call once.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	total := 0
	for _, def := range p.registry.Stages() {
		count := p.cfg.WorkersFor(def.Name)
		for i := 0; i < count; i++ {
			w := newWorker(fmt.Sprintf("%s-%d", def.Name, i), def, p)
			p.workers = append(p.workers, w)
			p.wg.Add(1)
			go w.run(runCtx)
		}
		total += count
	}
	slog.Info("Worker pool started", "workers", total, "stages", len(p.registry.Names()))
}

// Stop drains gracefully: discovery must already be stopped; queued jobs
// are dropped, running jobs finish or hit their budgets, and after the
// drain deadline everything is cancelled hard.
func (p *Pool) Stop(drainTimeout time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	dropped := p.queues.DrainPending()
	if dropped > 0 {
		slog.Info("Dropped queued jobs for shutdown", "count", dropped)
	}
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(drainTimeout):
		slog.Warn("Drain deadline exceeded, cancelling running jobs", "deadline", drainTimeout)
		p.cancel()
		<-done
		slog.Info("Worker pool stopped after hard cancel")
	}
	p.cancel()
}

// Health returns the pool health snapshot.
func (p *Pool) Health() PoolHealth {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		stats[i] = w.health()
		if stats[i].Status == WorkerStatusWorking {
			active++
		}
	}

	stages := p.queues.Depths()
	for i := range stages {
		stages[i].Workers = p.cfg.WorkersFor(stages[i].Stage)
	}

	return PoolHealth{
		Running:       started,
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		InFlight:      p.queues.InFlightCount(),
		Stages:        stages,
		WorkerStats:   stats,
	}
}

// Worker pulls jobs for a single stage and runs them under the stage
// budget.
type Worker struct {
	id   string
	def  stage.Definition
	pool *Pool

	mu            sync.Mutex
	status        WorkerStatus
	currentItemID string
	processed     int
	failed        int
	lastActivity  time.Time
}

func newWorker(id string, def stage.Definition, pool *Pool) *Worker {
	return &Worker{
		id: id, def: def, pool: pool,
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	log := slog.With("worker_id", w.id, "stage", w.def.Name)
	log.Debug("Worker started")
	jobs := w.pool.queues.jobs(w.def.Name)

	for {
		select {
		case <-w.pool.stopCh:
			log.Debug("Worker shutting down")
			return
		case <-ctx.Done():
			log.Debug("Context cancelled, worker shutting down")
			return
		case job := <-jobs:
			w.process(ctx, log, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, log *slog.Logger, job Job) {
	defer w.pool.queues.Release(job.ItemID)

	w.setStatus(WorkerStatusWorking, job.ItemID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithTimeout(ctx, w.def.Budget)
	defer cancel()

	start := time.Now()
	err := w.pool.runner.Run(jobCtx, job.ItemID, job.Stage)

	w.mu.Lock()
	w.processed++
	if err != nil {
		w.failed++
	}
	w.mu.Unlock()

	if err != nil {
		log.Warn("Job finished with error",
			"item_id", job.ItemID, "duration_ms", time.Since(start).Milliseconds(),
			"queued_ms", start.Sub(job.EnqueuedAt).Milliseconds(), "error", err)
		return
	}
	log.Info("Job finished",
		"item_id", job.ItemID, "duration_ms", time.Since(start).Milliseconds())
}

func (w *Worker) setStatus(status WorkerStatus, itemID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentItemID = itemID
	w.lastActivity = time.Now()
}

func (w *Worker) health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{
		ID:            w.id,
		Stage:         w.def.Name,
		Status:        w.status,
		CurrentItemID: w.currentItemID,
		JobsProcessed: w.processed,
		JobsFailed:    w.failed,
		LastActivity:  w.lastActivity,
	}
}
