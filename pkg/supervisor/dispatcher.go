package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// StageObserver receives stage execution outcomes, typically backed by
// prometheus collectors.
type StageObserver interface {
	StageObserved(stage string, duration time.Duration, err error)
}

// Dispatcher runs one claimed stage execution per job: claim, execute the
// bound adapter, commit or fail. It is the queue's JobRunner.
type Dispatcher struct {
	machine  *state.Machine
	registry *stage.Registry
	obs      StageObserver
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(machine *state.Machine, registry *stage.Registry) *Dispatcher {
	return &Dispatcher{machine: machine, registry: registry}
}

// WithObserver attaches a stage observer and returns the dispatcher.
func (d *Dispatcher) WithObserver(o StageObserver) *Dispatcher {
	d.obs = o
	return d
}

// Run implements queue.JobRunner.
func (d *Dispatcher) Run(ctx context.Context, itemID, stageName string) error {
	def, ok := d.registry.Lookup(stageName)
	if !ok {
		return errkind.Newf(errkind.Unexpected, "job for unknown stage %q", stageName)
	}
	adapter, ok := d.registry.Adapter(stageName)
	if !ok {
		return errkind.Newf(errkind.Unexpected, "stage %q has no bound adapter", stageName)
	}

	it, err := d.machine.Claim(ctx, itemID, stageName, def.Running, def.MaxAttempts)
	if err != nil {
		// A validation refusal means the item moved on between discovery
		// and dispatch; the job is simply stale.
		if errkind.KindOf(err) == errkind.Validation {
			slog.Debug("Skipping stale job", "item_id", itemID, "stage", stageName, "reason", err)
			return nil
		}
		return err
	}

	start := time.Now()
	res, err := adapter.Execute(ctx, it)
	if d.obs != nil {
		d.obs.StageObserved(stageName, time.Since(start), err)
	}
	if err != nil {
		if failErr := d.machine.Fail(ctx, itemID, stageName, def.MaxAttempts, err); failErr != nil {
			slog.Error("Failed to record stage failure",
				"item_id", itemID, "stage", stageName, "error", failErr)
		}
		return err
	}
	return d.machine.Complete(ctx, itemID, stageName, def.Done, res.Artifacts, res.Fields)
}
