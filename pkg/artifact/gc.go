package artifact

import (
	"context"
	"log/slog"
	"time"

	"github.com/shortsforge/shortsforge/pkg/config"
)

// TerminalLister reports items in a terminal state, for retention decisions.
// Implemented by the state store.
type TerminalLister interface {
	TerminalItems(ctx context.Context) ([]TerminalItem, error)
}

// TerminalItem is the minimal view the collector needs.
type TerminalItem struct {
	ID         string
	FinishedAt time.Time
}

// Collector garbage-collects artifacts of terminal items past the retention
// grace period. It takes the per-item lock for each removal so it cannot
// race an operator reset.
type Collector struct {
	cfg    config.RetentionConfig
	store  *Store
	lister TerminalLister

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector creates a collector.
func NewCollector(cfg config.RetentionConfig, store *Store, lister TerminalLister) *Collector {
	return &Collector{cfg: cfg, store: store, lister: lister}
}

// Start launches the background GC loop.
func (c *Collector) Start(ctx context.Context) {
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go c.run(ctx)

	slog.Info("Artifact GC started",
		"grace_period", c.cfg.GracePeriod,
		"interval", c.cfg.Interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	slog.Info("Artifact GC stopped")
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				slog.Error("Artifact GC pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single GC pass and returns the number of items whose
// artifacts were removed.
func (c *Collector) RunOnce(ctx context.Context) (int, error) {
	items, err := c.lister.TerminalItems(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-c.cfg.GracePeriod)
	removed := 0
	for _, item := range items {
		if item.FinishedAt.IsZero() || item.FinishedAt.After(cutoff) {
			continue
		}
		if err := c.store.RemoveItem(ctx, item.ID); err != nil {
			slog.Warn("Failed to remove artifacts", "item_id", item.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Artifact GC removed expired artifacts", "items", removed)
	}
	return removed, nil
}
