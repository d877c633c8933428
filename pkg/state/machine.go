package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/masking"
)

// Dashboard is the slice of the dashboard adapter the machine commits
// through. Field updates use optimistic concurrency on the status column.
type Dashboard interface {
	UpdateFields(ctx context.Context, itemID string, fields map[string]string, expectedStatus string) error
}

// MachineConfig shapes stage-level requeue delays.
type MachineConfig struct {
	// RequeueBase and RequeueCap bound the exponential requeue delay for
	// retryable stage failures.
	RequeueBase time.Duration
	RequeueCap  time.Duration

	// CooldownFloor is the minimum requeue delay after a circuit-open
	// failure (the breaker cool-down).
	CooldownFloor time.Duration
}

// DefaultMachineConfig returns the built-in requeue policy.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		RequeueBase:   30 * time.Second,
		RequeueCap:    10 * time.Minute,
		CooldownFloor: 30 * time.Second,
	}
}

// Machine is the only writer of item state. Every transition is a
// three-step commit under the per-item lock: (1) artifacts finalized,
// (2) local state row rewritten, (3) dashboard updated. A crash between
// (2) and (3) is repaired by Reconcile at startup.
type Machine struct {
	cfg    MachineConfig
	db     *DB
	dash   Dashboard
	store  *artifact.Store
	masker *masking.Service
}

// NewMachine wires the state machine.
func NewMachine(cfg MachineConfig, db *DB, dash Dashboard, store *artifact.Store, masker *masking.Service) *Machine {
	return &Machine{cfg: cfg, db: db, dash: dash, store: store, masker: masker}
}

// DB exposes the underlying item store for read-only consumers
// (discovery, status command, GC).
func (m *Machine) DB() *DB { return m.db }

// Create registers a new item in the local store. The dashboard row must
// already exist (the adapter appends it and assigns the id).
func (m *Machine) Create(ctx context.Context, it *Item) error {
	return m.store.Locks().With(ctx, it.ID, func() error {
		now := time.Now()
		it.CreatedAt = now
		it.UpdatedAt = now
		if it.State == "" {
			it.State = StatePendingApproval
		}
		if it.StageAttempts == nil {
			it.StageAttempts = map[string]int{}
		}
		return m.db.Put(ctx, it)
	})
}

// Approve records an operator approval observed on the dashboard.
// No-op when the item already left pending_approval.
func (m *Machine) Approve(ctx context.Context, itemID string) error {
	return m.store.Locks().With(ctx, itemID, func() error {
		it, err := m.db.Get(ctx, itemID)
		if err != nil {
			return err
		}
		if it.State != StatePendingApproval {
			return nil
		}
		it.State = StateApproved
		it.UpdatedAt = time.Now()
		if err := m.db.Put(ctx, it); err != nil {
			return err
		}
		slog.Info("Item approved", "item_id", it.ID)
		return nil
	})
}

// Claim moves an item into a stage's running state and increments the
// attempt counter. It fails if the item is not in a state the stage may
// start from, or if attempts are exhausted (which transitions to failed).
func (m *Machine) Claim(ctx context.Context, itemID, stage string, running State, maxAttempts int) (*Item, error) {
	var claimed *Item
	err := m.store.Locks().With(ctx, itemID, func() error {
		it, err := m.db.Get(ctx, itemID)
		if err != nil {
			return err
		}
		if it.State.Terminal() {
			return errkind.Newf(errkind.Validation, "item %s is terminal (%s)", itemID, it.State)
		}
		if !running.ReachableFrom(it.State) {
			return errkind.Newf(errkind.Validation,
				"stage %s cannot start from state %s", stage, it.State)
		}

		attempt := it.Attempts(stage) + 1
		if attempt > maxAttempts {
			m.failLocked(ctx, it, stage, errkind.Newf(errkind.Unexpected,
				"attempts exhausted (%d/%d)", attempt-1, maxAttempts))
			return errkind.Newf(errkind.Client, "item %s exhausted attempts for %s", itemID, stage)
		}

		prevStatus := it.State.DashboardStatus()
		if it.StageAttempts == nil {
			it.StageAttempts = map[string]int{}
		}
		it.StageAttempts[stage] = attempt
		it.State = running
		it.FailedStage = ""
		it.RetryAfter = time.Time{}
		it.UpdatedAt = time.Now()
		if err := m.db.Put(ctx, it); err != nil {
			return err
		}
		m.updateDashboard(ctx, it, map[string]string{}, prevStatus)
		claimed = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete commits a successful stage: the produced artifacts are merged
// into the item, the state advances, and the dashboard row is updated.
// Artifacts must already be finalized on disk (commit step 1).
func (m *Machine) Complete(ctx context.Context, itemID, stage string, done State, produced []artifact.Artifact, fields map[string]string) error {
	return m.store.Locks().With(ctx, itemID, func() error {
		it, err := m.db.Get(ctx, itemID)
		if err != nil {
			return err
		}
		if !done.ReachableFrom(it.State) {
			return errkind.Newf(errkind.Validation,
				"illegal transition %s -> %s for item %s", it.State, done, itemID)
		}

		// Invariant: only verified artifacts may be referenced.
		for _, a := range produced {
			if err := m.store.Verify(a); err != nil {
				return fmt.Errorf("refusing to reference unverified artifact: %w", err)
			}
		}

		prevStatus := it.State.DashboardStatus()
		it.Artifacts = mergeArtifacts(it.Artifacts, produced)
		it.State = done
		it.FailedStage = ""
		it.RetryAfter = time.Time{}
		it.LastError = nil
		if url, ok := fields["published_url"]; ok {
			it.PublicationURL = url
		}
		it.UpdatedAt = time.Now()
		if done.Terminal() {
			it.FinishedAt = it.UpdatedAt
		}
		if err := m.db.Put(ctx, it); err != nil { // commit step 2
			return err
		}
		m.updateDashboard(ctx, it, fields, prevStatus) // commit step 3
		slog.Info("Stage completed",
			"item_id", it.ID, "stage", stage, "state", it.State, "attempt", it.Attempts(stage))
		return nil
	})
}

// Fail records a stage failure, classifying the error to pick the next
// state: retryable kinds back off and requeue until attempts are exhausted,
// terminal kinds fail the item immediately.
func (m *Machine) Fail(ctx context.Context, itemID, stage string, maxAttempts int, cause error) error {
	return m.store.Locks().With(ctx, itemID, func() error {
		it, err := m.db.Get(ctx, itemID)
		if err != nil {
			return err
		}
		kind := errkind.KindOf(cause)
		attempts := it.Attempts(stage)

		retryable := kind.Retryable() && attempts < maxAttempts
		if kind == errkind.Resource {
			// Disk and lock trouble gets exactly one more try.
			retryable = attempts < 2
		}

		if retryable {
			m.requeueLocked(ctx, it, stage, kind, cause)
			return nil
		}
		m.failLocked(ctx, it, stage, cause)
		return nil
	})
}

func (m *Machine) requeueLocked(ctx context.Context, it *Item, stage string, kind errkind.Kind, cause error) {
	delay := m.requeueDelay(kind, it.Attempts(stage))
	prevStatus := it.State.DashboardStatus()
	it.State = StateRetryableError
	it.FailedStage = stage
	it.RetryAfter = time.Now().Add(delay)
	it.LastError = &ErrorInfo{
		Kind:    kind,
		Message: m.masker.MaskError(cause),
		Stage:   stage,
		At:      time.Now(),
	}
	it.UpdatedAt = time.Now()
	if err := m.db.Put(ctx, it); err != nil {
		slog.Error("Failed to persist requeue", "item_id", it.ID, "error", err)
		return
	}
	// Retryable errors do not surface to the dashboard until attempts are
	// exhausted; the label stays In Progress.
	m.updateDashboard(ctx, it, map[string]string{}, prevStatus)
	slog.Warn("Stage requeued",
		"item_id", it.ID, "stage", stage, "kind", string(kind),
		"attempt", it.Attempts(stage), "retry_after", it.RetryAfter)
}

func (m *Machine) failLocked(ctx context.Context, it *Item, stage string, cause error) {
	kind := errkind.KindOf(cause)
	prevStatus := it.State.DashboardStatus()
	it.State = StateFailed
	it.FailedStage = stage
	it.RetryAfter = time.Time{}
	it.LastError = &ErrorInfo{
		Kind:    kind,
		Message: m.masker.MaskError(cause),
		Stage:   stage,
		At:      time.Now(),
	}
	it.UpdatedAt = time.Now()
	it.FinishedAt = it.UpdatedAt
	if err := m.db.Put(ctx, it); err != nil {
		slog.Error("Failed to persist failure", "item_id", it.ID, "error", err)
		return
	}
	m.updateDashboard(ctx, it, map[string]string{
		"error": fmt.Sprintf("%s: %s", kind, it.LastError.Message),
	}, prevStatus)
	slog.Error("Stage failed permanently",
		"item_id", it.ID, "stage", stage, "kind", string(kind), "error", it.LastError.Message)
}

// Reset is the operator-initiated backward transition: the item re-enters
// the last state its verified artifacts support, clearing the error and the
// failed stage's attempt counter.
func (m *Machine) Reset(ctx context.Context, itemID string) (*Item, error) {
	var out *Item
	err := m.store.Locks().With(ctx, itemID, func() error {
		it, err := m.db.Get(ctx, itemID)
		if err != nil {
			return err
		}
		prevStatus := it.State.DashboardStatus()
		resumeAt := m.lastSupportedState(it)

		if it.FailedStage != "" && it.StageAttempts != nil {
			delete(it.StageAttempts, it.FailedStage)
		}
		it.State = resumeAt
		it.FailedStage = ""
		it.RetryAfter = time.Time{}
		it.LastError = nil
		it.FinishedAt = time.Time{}
		it.UpdatedAt = time.Now()
		if err := m.db.Put(ctx, it); err != nil {
			return err
		}
		m.updateDashboard(ctx, it, map[string]string{"error": ""}, prevStatus)
		slog.Info("Item reset", "item_id", it.ID, "state", it.State)
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lastSupportedState derives the most advanced done-state whose required
// artifacts exist and verify on disk.
func (m *Machine) lastSupportedState(it *Item) State {
	ladder := []struct {
		state State
		kind  artifact.Kind
	}{
		{StateMetadataReady, artifact.KindMetadataJSON},
		{StateCaptioned, artifact.KindCaptionedVideo},
		{StateAssembled, artifact.KindAssembledVideo},
		{StateClipsSourced, artifact.KindStockClip},
		{StateNarrated, artifact.KindNarration},
		{StateScripted, artifact.KindScript},
	}
	for _, step := range ladder {
		arts := it.ArtifactsOf(step.kind)
		if len(arts) == 0 {
			continue
		}
		ok := true
		for _, a := range arts {
			if err := m.store.Verify(a); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return step.state
		}
	}
	if it.State == StatePendingApproval {
		return StatePendingApproval
	}
	return StateApproved
}

func (m *Machine) requeueDelay(kind errkind.Kind, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := m.cfg.RequeueBase << (attempts - 1)
	if delay > m.cfg.RequeueCap || delay <= 0 {
		delay = m.cfg.RequeueCap
	}
	if kind == errkind.CircuitOpen && delay < m.cfg.CooldownFloor {
		delay = m.cfg.CooldownFloor
	}
	return delay
}

// updateDashboard pushes the status label (and extra fields) when the label
// changed. Failures are logged, not fatal: startup reconciliation repairs
// the divergence.
func (m *Machine) updateDashboard(ctx context.Context, it *Item, fields map[string]string, expectedStatus string) {
	if m.dash == nil {
		return
	}
	status := it.State.DashboardStatus()
	if status == expectedStatus && len(fields) == 0 {
		return
	}
	out := make(map[string]string, len(fields)+1)
	for k, v := range m.masker.MaskFields(fields) {
		out[k] = v
	}
	out["status"] = status
	if err := m.dash.UpdateFields(ctx, it.ID, out, expectedStatus); err != nil {
		slog.Warn("Dashboard update failed; will reconcile at startup",
			"item_id", it.ID, "status", status, "error", err)
	}
}

func mergeArtifacts(existing, produced []artifact.Artifact) []artifact.Artifact {
	out := make([]artifact.Artifact, 0, len(existing)+len(produced))
	for _, a := range existing {
		replaced := false
		for _, p := range produced {
			// A superseding artifact of a single-instance kind replaces the
			// old generation; stock clips accumulate.
			if a.Kind == p.Kind && a.Kind != artifact.KindStockClip && a.Path != p.Path {
				replaced = true
				break
			}
			if a.Kind == p.Kind && a.Path == p.Path {
				replaced = true // identical reference, keep the new record
				break
			}
		}
		if !replaced {
			out = append(out, a)
		}
	}
	return append(out, produced...)
}
