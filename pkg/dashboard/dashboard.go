// Package dashboard adapts the operator-facing spreadsheet: one row per
// item, a status column the pipeline and the operator both write, and
// optimistic concurrency on updates so neither side silently overwrites
// the other.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrStale is returned by UpdateFields when the row's status no longer
// matches the caller's expectation. The caller re-reads and re-decides.
var ErrStale = errors.New("dashboard row changed since read")

// ErrRowNotFound is returned when no row carries the item id.
var ErrRowNotFound = errors.New("dashboard row not found")

// Status labels, exactly as they appear in the status column.
const (
	StatusPendingApproval = "Pending Approval"
	StatusApproved        = "Approved"
	StatusInProgress      = "In Progress"
	StatusCompleted       = "Completed"
	StatusFailed          = "Failed"
)

// Columns in sheet order. The header row is bootstrapped from this slice.
var Columns = []string{
	"id", "source", "title", "status", "script", "audio_path",
	"video_path", "published_url", "error", "created_at", "updated_at",
}

// Row is one dashboard row keyed by item id.
type Row struct {
	Index        int64 // 1-based sheet row, 0 when unknown
	ItemID       string
	Source       string
	Title        string
	Status       string
	Script       string
	AudioPath    string
	VideoPath    string
	PublishedURL string
	Error        string
	CreatedAt    string
	UpdatedAt    string
}

// Fields returns the row as a column-keyed map.
func (r Row) Fields() map[string]string {
	return map[string]string{
		"id": r.ItemID, "source": r.Source, "title": r.Title,
		"status": r.Status, "script": r.Script, "audio_path": r.AudioPath,
		"video_path": r.VideoPath, "published_url": r.PublishedURL,
		"error": r.Error, "created_at": r.CreatedAt, "updated_at": r.UpdatedAt,
	}
}

func (r *Row) apply(fields map[string]string) error {
	for k, v := range fields {
		switch k {
		case "id":
			r.ItemID = v
		case "source":
			r.Source = v
		case "title":
			r.Title = v
		case "status":
			r.Status = v
		case "script":
			r.Script = v
		case "audio_path":
			r.AudioPath = v
		case "video_path":
			r.VideoPath = v
		case "published_url":
			r.PublishedURL = v
		case "error":
			r.Error = v
		case "created_at":
			r.CreatedAt = v
		case "updated_at":
			r.UpdatedAt = v
		default:
			return fmt.Errorf("unknown dashboard column %q", k)
		}
	}
	return nil
}

// Adapter is the dashboard the pipeline talks to. Implementations must make
// UpdateFields atomic per row with respect to the expected status.
type Adapter interface {
	// ListItems returns every item row, header excluded.
	ListItems(ctx context.Context) ([]Row, error)

	// GetItem returns the row for an item id, or ErrRowNotFound.
	GetItem(ctx context.Context, itemID string) (Row, error)

	// AppendItem adds a new row and returns its sheet index.
	AppendItem(ctx context.Context, row Row) (int64, error)

	// UpdateFields rewrites the named columns if the row's status still
	// equals expectedStatus; otherwise ErrStale. An empty expectedStatus
	// skips the check.
	UpdateFields(ctx context.Context, itemID string, fields map[string]string, expectedStatus string) error
}

// Fake is an in-memory Adapter for tests and dry runs.
type Fake struct {
	mu   sync.Mutex
	rows map[string]*Row
	next int64
}

// NewFake creates an empty in-memory dashboard.
func NewFake() *Fake {
	return &Fake{rows: make(map[string]*Row), next: 2} // row 1 is the header
}

// ListItems implements Adapter.
func (f *Fake) ListItems(context.Context) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Row, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// GetItem implements Adapter.
func (f *Fake) GetItem(_ context.Context, itemID string) (Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[itemID]
	if !ok {
		return Row{}, ErrRowNotFound
	}
	return *r, nil
}

// AppendItem implements Adapter.
func (f *Fake) AppendItem(_ context.Context, row Row) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ItemID == "" {
		return 0, errors.New("row has no item id")
	}
	if _, exists := f.rows[row.ItemID]; exists {
		return 0, fmt.Errorf("duplicate item id %s", row.ItemID)
	}
	row.Index = f.next
	f.next++
	if row.CreatedAt == "" {
		row.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	f.rows[row.ItemID] = &row
	return row.Index, nil
}

// UpdateFields implements Adapter.
func (f *Fake) UpdateFields(_ context.Context, itemID string, fields map[string]string, expectedStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[itemID]
	if !ok {
		return ErrRowNotFound
	}
	if expectedStatus != "" && r.Status != expectedStatus {
		return fmt.Errorf("%w: status is %q, expected %q", ErrStale, r.Status, expectedStatus)
	}
	if err := r.apply(fields); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return nil
}

// SetStatus is a test helper simulating an operator edit.
func (f *Fake) SetStatus(itemID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[itemID]; ok {
		r.Status = status
	}
}
