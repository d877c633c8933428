package dashboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAppendAndGet(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	idx, err := f.AppendItem(ctx, Row{ItemID: "I1", Title: "t", Status: StatusPendingApproval})
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx, "first item lands under the header")

	got, err := f.GetItem(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, got.Status)
	assert.NotEmpty(t, got.CreatedAt)

	_, err = f.GetItem(ctx, "nope")
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestFakeRejectsDuplicateID(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	_, err := f.AppendItem(ctx, Row{ItemID: "I1"})
	require.NoError(t, err)
	_, err = f.AppendItem(ctx, Row{ItemID: "I1"})
	assert.Error(t, err)
}

func TestUpdateFieldsOptimisticConcurrency(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	_, err := f.AppendItem(ctx, Row{ItemID: "I1", Status: StatusApproved})
	require.NoError(t, err)

	err = f.UpdateFields(ctx, "I1", map[string]string{"status": StatusInProgress}, StatusApproved)
	require.NoError(t, err)

	// A second writer with the stale expectation loses.
	err = f.UpdateFields(ctx, "I1", map[string]string{"status": StatusFailed}, StatusApproved)
	assert.ErrorIs(t, err, ErrStale)

	got, err := f.GetItem(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestUpdateFieldsRejectsUnknownColumn(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	_, err := f.AppendItem(ctx, Row{ItemID: "I1", Status: StatusApproved})
	require.NoError(t, err)
	err = f.UpdateFields(ctx, "I1", map[string]string{"bogus": "x"}, "")
	assert.Error(t, err)
}

func TestListItemsOrderedByRow(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	for _, id := range []string{"I1", "I2", "I3"} {
		_, err := f.AppendItem(ctx, Row{ItemID: id})
		require.NoError(t, err)
	}
	rows, err := f.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "I1", rows[0].ItemID)
	assert.Equal(t, "I3", rows[2].ItemID)
}

func TestRowFromCellsPadsShortRows(t *testing.T) {
	r := rowFromCells(5, []any{"I1", "ai_ideation", "title", StatusApproved})
	assert.Equal(t, int64(5), r.Index)
	assert.Equal(t, "I1", r.ItemID)
	assert.Equal(t, StatusApproved, r.Status)
	assert.Empty(t, r.PublishedURL)
}

func TestRowIndexFromRange(t *testing.T) {
	assert.Equal(t, int64(7), rowIndexFromRange("Items!A7:K7"))
	assert.Equal(t, int64(123), rowIndexFromRange("Items!A123:K123"))
	assert.Equal(t, int64(0), rowIndexFromRange(""))
}

func TestRowFieldsRoundTrip(t *testing.T) {
	r := Row{ItemID: "I1", Source: "social_trend", Title: "t", Status: StatusCompleted,
		PublishedURL: "https://youtu.be/x"}
	var back Row
	require.NoError(t, (&back).apply(r.Fields()))
	back.Index = r.Index
	assert.Equal(t, r, back)
}
