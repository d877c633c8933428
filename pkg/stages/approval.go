package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shortsforge/shortsforge/pkg/dashboard"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// ApprovalWatcher promotes items the operator marked Approved on the
// dashboard. It only ever moves pending_approval forward; everything else
// about a row is the pipeline's own writing.
type ApprovalWatcher struct {
	machine *state.Machine
	dash    dashboard.Adapter
}

// NewApprovalWatcher wires the watcher.
func NewApprovalWatcher(machine *state.Machine, dash dashboard.Adapter) *ApprovalWatcher {
	return &ApprovalWatcher{machine: machine, dash: dash}
}

// Poll scans the dashboard once and returns how many items it approved.
func (w *ApprovalWatcher) Poll(ctx context.Context) (int, error) {
	rows, err := w.dash.ListItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing dashboard items: %w", err)
	}
	approved := 0
	for _, row := range rows {
		if row.Status != dashboard.StatusApproved || row.ItemID == "" {
			continue
		}
		it, err := w.machine.DB().Get(ctx, row.ItemID)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				slog.Warn("Approved row has no local item", "item_id", row.ItemID, "row", row.Index)
				continue
			}
			return approved, err
		}
		if it.State != state.StatePendingApproval {
			continue
		}
		if err := w.machine.Approve(ctx, row.ItemID); err != nil {
			return approved, err
		}
		approved++
	}
	return approved, nil
}
