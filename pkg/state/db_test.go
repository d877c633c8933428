package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/errkind"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newItem(id string, st State) *Item {
	now := time.Now().Truncate(time.Second)
	return &Item{
		ID:            id,
		Source:        SourceAIIdeation,
		Title:         "How rivers freeze",
		ConceptText:   "a short explainer",
		State:         st,
		StageAttempts: map[string]int{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	it := newItem("I1", StateScripted)
	it.StageAttempts["scripting"] = 2
	it.Artifacts = []artifact.Artifact{{
		ItemID: "I1", Kind: artifact.KindScript, Path: "/tmp/x",
		Size: 10, SHA256: "abc", Stage: "scripting", CreatedAt: time.Now(),
	}}
	it.LastError = &ErrorInfo{Kind: errkind.Transient, Message: "blip", Stage: "scripting", At: time.Now()}
	require.NoError(t, db.Put(ctx, it))

	got, err := db.Get(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, StateScripted, got.State)
	assert.Equal(t, 2, got.Attempts("scripting"))
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, artifact.KindScript, got.Artifacts[0].Kind)
	require.NotNil(t, got.LastError)
	assert.Equal(t, errkind.Transient, got.LastError.Kind)
}

func TestGetNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByStateFIFO(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	older := newItem("I1", StateApproved)
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := newItem("I2", StateApproved)
	other := newItem("I3", StateScripted)
	for _, it := range []*Item{newer, older, other} {
		require.NoError(t, db.Put(ctx, it))
	}

	got, err := db.ListByState(ctx, StateApproved)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "I1", got[0].ID, "oldest update first")
	assert.Equal(t, "I2", got[1].ID)
}

func TestRetryableDue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	due := newItem("I1", StateRetryableError)
	due.RetryAfter = time.Now().Add(-time.Minute)
	notYet := newItem("I2", StateRetryableError)
	notYet.RetryAfter = time.Now().Add(time.Hour)
	for _, it := range []*Item{due, notYet} {
		require.NoError(t, db.Put(ctx, it))
	}

	got, err := db.RetryableDue(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "I1", got[0].ID)
}

func TestTerminalItems(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	pub := newItem("I1", StatePublished)
	pub.FinishedAt = time.Now().Add(-time.Hour)
	failed := newItem("I2", StateFailed)
	failed.FinishedAt = time.Now()
	running := newItem("I3", StateScripting)
	for _, it := range []*Item{pub, failed, running} {
		require.NoError(t, db.Put(ctx, it))
	}

	got, err := db.TerminalItems(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReachableFrom(t *testing.T) {
	assert.True(t, StateScripting.ReachableFrom(StateApproved))
	assert.True(t, StateScripted.ReachableFrom(StateScripting))
	assert.True(t, StateFailed.ReachableFrom(StateNarrating))
	assert.True(t, StateRetryableError.ReachableFrom(StateNarrating))
	assert.True(t, StateNarrating.ReachableFrom(StateRetryableError))

	assert.False(t, StateApproved.ReachableFrom(StateScripted), "no backward moves")
	assert.False(t, StateScripting.ReachableFrom(StatePublished), "published is terminal")
	assert.False(t, StateScripting.ReachableFrom(StateFailed), "failed leaves only via reset")
}

func TestDashboardStatusLabels(t *testing.T) {
	assert.Equal(t, "Pending Approval", StatePendingApproval.DashboardStatus())
	assert.Equal(t, "Approved", StateApproved.DashboardStatus())
	assert.Equal(t, "In Progress", StateScripting.DashboardStatus())
	assert.Equal(t, "In Progress", StateRetryableError.DashboardStatus())
	assert.Equal(t, "Completed", StatePublished.DashboardStatus())
	assert.Equal(t, "Failed", StateFailed.DashboardStatus())
}

func TestFingerprintStable(t *testing.T) {
	it := newItem("I1", StateApproved)
	a := it.Fingerprint("scripting", "seed")
	b := it.Fingerprint("scripting", "seed")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, it.Fingerprint("narrating", "seed"))
	assert.Len(t, a, 32)
}
