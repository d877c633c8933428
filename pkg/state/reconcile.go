package state

import (
	"context"
	"log/slog"
	"time"
)

// DashboardRow is the reconciler's view of one dashboard row. The supervisor
// fetches rows through the dashboard adapter and maps them here.
type DashboardRow struct {
	ItemID       string
	RowIndex     int64
	Status       string
	PublishedURL string
}

// statusRank orders dashboard labels by pipeline advancement. Completed and
// Failed are both terminal.
var statusRank = map[string]int{
	"Pending Approval": 0,
	"Approved":         1,
	"In Progress":      2,
	"Completed":        3,
	"Failed":           3,
}

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Demoted       int // running items re-entered at their last supported state
	DashboardSync int // dashboard rows updated to match local truth
	Adopted       int // operator-side transitions adopted locally
	Orphans       int // local items with no dashboard row
}

// Reconcile repairs divergence between the local store and the dashboard at
// startup. Items stuck in a running state from a crash re-enter the last
// state their verified artifacts support; where local and dashboard disagree
// the more advanced side wins if its artifacts verify, otherwise the item
// falls back and is picked up by discovery.
func (m *Machine) Reconcile(ctx context.Context, rows []DashboardRow) (ReconcileStats, error) {
	var stats ReconcileStats

	byID := make(map[string]DashboardRow, len(rows))
	for _, r := range rows {
		if r.ItemID != "" {
			byID[r.ItemID] = r
		}
	}

	items, err := m.db.List(ctx)
	if err != nil {
		return stats, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		err := m.store.Locks().With(ctx, it.ID, func() error {
			it, err := m.db.Get(ctx, it.ID)
			if err != nil {
				return err
			}

			// A crash mid-stage leaves the running state behind; the attempt
			// was already counted at claim, so the item just re-enters the
			// last state its artifacts support.
			if it.State.Running() {
				resume := m.lastSupportedState(it)
				slog.Warn("Reconciling interrupted stage",
					"item_id", it.ID, "was", it.State, "resume_at", resume)
				it.State = resume
				it.UpdatedAt = time.Now()
				if err := m.db.Put(ctx, it); err != nil {
					return err
				}
				stats.Demoted++
			}

			row, ok := byID[it.ID]
			if !ok {
				slog.Warn("Local item has no dashboard row", "item_id", it.ID, "state", it.State)
				stats.Orphans++
				return nil
			}

			localStatus := it.State.DashboardStatus()
			if row.Status == localStatus {
				return nil
			}

			localRank, rowRank := statusRank[localStatus], statusRank[row.Status]
			switch {
			case localRank > rowRank:
				// Crash between the local commit and the dashboard update:
				// push local truth out, provided the artifacts still verify.
				if !m.artifactsVerify(it) {
					resume := m.lastSupportedState(it)
					slog.Warn("Local state ahead but artifacts do not verify; falling back",
						"item_id", it.ID, "was", it.State, "resume_at", resume)
					it.State = resume
					it.UpdatedAt = time.Now()
					if err := m.db.Put(ctx, it); err != nil {
						return err
					}
					stats.Demoted++
					return nil
				}
				fields := map[string]string{}
				if it.PublicationURL != "" {
					fields["published_url"] = it.PublicationURL
				}
				if it.State == StateFailed && it.LastError != nil {
					fields["error"] = it.LastError.Message
				}
				m.updateDashboard(ctx, it, fields, row.Status)
				stats.DashboardSync++
			case rowRank > localRank && row.Status == "Approved" && it.State == StatePendingApproval:
				// Operator approval is the one forward edit made on the
				// dashboard side.
				it.State = StateApproved
				it.UpdatedAt = time.Now()
				if err := m.db.Put(ctx, it); err != nil {
					return err
				}
				stats.Adopted++
				slog.Info("Adopted operator approval", "item_id", it.ID)
			default:
				slog.Warn("Unresolvable dashboard divergence; keeping local state",
					"item_id", it.ID, "local", localStatus, "dashboard", row.Status)
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}

	slog.Info("Startup reconciliation complete",
		"demoted", stats.Demoted, "dashboard_synced", stats.DashboardSync,
		"adopted", stats.Adopted, "orphans", stats.Orphans)
	return stats, nil
}

func (m *Machine) artifactsVerify(it *Item) bool {
	for _, a := range it.Artifacts {
		if err := m.store.Verify(a); err != nil {
			return false
		}
	}
	return true
}
