// Package supervisor drives the pipeline: startup reconciliation, the
// discovery scan that feeds the stage queues, approval watching, sourcing
// ticks, and graceful shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/config"
	"github.com/shortsforge/shortsforge/pkg/dashboard"
	"github.com/shortsforge/shortsforge/pkg/queue"
	"github.com/shortsforge/shortsforge/pkg/resilience"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/stages"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// Supervisor owns the run loop around an already-wired pipeline.
type Supervisor struct {
	cfg      *config.Config
	machine  *state.Machine
	registry *stage.Registry
	pool     *queue.Pool
	dash     dashboard.Adapter

	sourcer   *stages.Sourcer
	approvals *stages.ApprovalWatcher
	caller    *resilience.Caller
	gc        *artifact.Collector
}

// New wires the supervisor. sourcer, caller, and gc may be nil; the
// corresponding duties are skipped.
func New(cfg *config.Config, machine *state.Machine, registry *stage.Registry, pool *queue.Pool, dash dashboard.Adapter, sourcer *stages.Sourcer, caller *resilience.Caller, gc *artifact.Collector) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		machine:   machine,
		registry:  registry,
		pool:      pool,
		dash:      dash,
		sourcer:   sourcer,
		approvals: stages.NewApprovalWatcher(machine, dash),
		caller:    caller,
		gc:        gc,
	}
}

// Reconcile repairs local state against the dashboard. Run before any
// workers start: it demotes states interrupted mid-stage.
func (s *Supervisor) Reconcile(ctx context.Context) (state.ReconcileStats, error) {
	rows, err := s.dash.ListItems(ctx)
	if err != nil {
		return state.ReconcileStats{}, fmt.Errorf("listing dashboard for reconcile: %w", err)
	}
	mapped := make([]state.DashboardRow, len(rows))
	for i, r := range rows {
		mapped[i] = state.DashboardRow{
			ItemID:       r.ItemID,
			RowIndex:     r.Index,
			Status:       r.Status,
			PublishedURL: r.PublishedURL,
		}
	}
	return s.machine.Reconcile(ctx, mapped)
}

// Discover scans for runnable items and enqueues them. Returns how many
// jobs were enqueued.
func (s *Supervisor) Discover(ctx context.Context) (int, error) {
	ready, err := s.readyItems(ctx)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, it := range ready {
		def, ok := s.registry.Next(it)
		if !ok {
			continue
		}
		switch err := s.pool.Queues().Enqueue(it.ID, def.Name); {
		case err == nil:
			enqueued++
			slog.Debug("Enqueued job", "item_id", it.ID, "stage", def.Name)
		case errors.Is(err, queue.ErrInFlight):
			// Already being worked; next scan picks it up if needed.
		case errors.Is(err, queue.ErrQueueFull):
			slog.Warn("Stage queue full, deferring item", "item_id", it.ID, "stage", def.Name)
		default:
			return enqueued, err
		}
	}
	return enqueued, nil
}

// readyItems collects items sitting in a stage's from-state plus parked
// retryable items whose cooldown expired.
func (s *Supervisor) readyItems(ctx context.Context) ([]*state.Item, error) {
	fromStates := make([]state.State, 0, len(s.registry.Stages()))
	for _, def := range s.registry.Stages() {
		fromStates = append(fromStates, def.From)
	}
	items, err := s.machine.DB().ListByState(ctx, fromStates...)
	if err != nil {
		return nil, err
	}
	due, err := s.machine.DB().RetryableDue(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	return append(items, due...), nil
}

// RunOnce performs a single production pass: reconcile, source, approve,
// then discover and drain until the pipeline goes idle.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	if err := s.startup(ctx); err != nil {
		return err
	}
	s.pool.Start(ctx)
	defer s.shutdown()

	if s.sourcer != nil {
		if _, err := s.sourcer.Source(ctx); err != nil {
			slog.Error("Sourcing failed", "error", err)
		}
	}
	if _, err := s.approvals.Poll(ctx); err != nil {
		slog.Warn("Approval poll failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.Queue.DiscoveryInterval)
	defer ticker.Stop()

	idleScans := 0
	for {
		enqueued, err := s.Discover(ctx)
		if err != nil {
			return err
		}
		if enqueued == 0 && s.pool.Queues().InFlightCount() == 0 {
			idleScans++
			// Two consecutive idle scans: commits from the last jobs have
			// landed and produced no further work.
			if idleScans >= 2 {
				return nil
			}
		} else {
			idleScans = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunLoop runs continuously: discovery and approval polling on the
// discovery interval, a full sourcing tick at the scheduled daily time,
// artifact GC in the background. Blocks until ctx is cancelled.
func (s *Supervisor) RunLoop(ctx context.Context) error {
	if err := s.startup(ctx); err != nil {
		return err
	}
	s.pool.Start(ctx)
	if s.gc != nil {
		s.gc.Start(ctx)
	}
	defer func() {
		if s.gc != nil {
			s.gc.Stop()
		}
		s.shutdown()
	}()

	discovery := time.NewTicker(s.cfg.Queue.DiscoveryInterval)
	defer discovery.Stop()
	daily := time.NewTimer(time.Until(nextDailyRun(time.Now(), s.cfg.Schedule.DailyRunAt)))
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown requested, draining")
			return nil
		case <-discovery.C:
			if _, err := s.approvals.Poll(ctx); err != nil {
				slog.Warn("Approval poll failed", "error", err)
			}
			if _, err := s.Discover(ctx); err != nil {
				slog.Error("Discovery scan failed", "error", err)
			}
		case <-daily.C:
			if s.sourcer != nil {
				if n, err := s.sourcer.Source(ctx); err != nil {
					slog.Error("Daily sourcing failed", "error", err)
				} else {
					slog.Info("Daily sourcing complete", "created", n)
				}
			}
			daily.Reset(time.Until(nextDailyRun(time.Now(), s.cfg.Schedule.DailyRunAt)))
		}
	}
}

func (s *Supervisor) startup(ctx context.Context) error {
	if s.caller != nil {
		if err := s.caller.RestoreSnapshot(s.cfg.Paths.BreakerSnapshot()); err != nil {
			slog.Warn("Could not restore circuit-breaker snapshot", "error", err)
		}
	}
	stats, err := s.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	slog.Info("Startup reconcile complete",
		"demoted", stats.Demoted, "dashboard_synced", stats.DashboardSync,
		"adopted", stats.Adopted, "orphans", stats.Orphans)
	return nil
}

func (s *Supervisor) shutdown() {
	s.pool.Stop(s.cfg.Queue.DrainTimeout)
	if s.caller != nil {
		if err := s.caller.SaveSnapshot(s.cfg.Paths.BreakerSnapshot()); err != nil {
			slog.Warn("Could not persist circuit-breaker snapshot", "error", err)
		}
	}
}

// Health is the run-time snapshot served by the status endpoint.
type Health struct {
	Pool     queue.PoolHealth  `json:"pool"`
	Breakers map[string]string `json:"breakers,omitempty"`
	Items    map[string]int    `json:"items"`
}

// Health reports pool, breaker, and per-state item counts.
func (s *Supervisor) Health(ctx context.Context) (Health, error) {
	h := Health{Pool: s.pool.Health(), Items: map[string]int{}}
	if s.caller != nil {
		h.Breakers = s.caller.BreakerStates()
	}
	items, err := s.machine.DB().List(ctx)
	if err != nil {
		return h, err
	}
	for _, it := range items {
		h.Items[string(it.State)]++
	}
	return h, nil
}

// nextDailyRun returns the next occurrence of the HH:MM wall-clock time
// after now. A malformed schedule falls back to 09:00.
func nextDailyRun(now time.Time, at string) time.Time {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		slog.Warn("Invalid daily_run_at, using 09:00", "value", at)
		parsed, _ = time.Parse("15:04", "09:00")
	}
	next := time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
