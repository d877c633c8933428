// Package state owns per-item durable state: the item model, the sqlite
// item store, the state machine with its three-step commit discipline, and
// startup reconciliation against the dashboard. No component may mutate an
// item's state except through the Machine.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/errkind"
)

// Source identifies where an item's concept came from.
type Source string

// Item sources.
const (
	SourceAIIdeation  Source = "ai_ideation"
	SourceSocialTrend Source = "social_trend"
)

// State is an item's position in the pipeline.
type State string

// Item states, in pipeline order. Running states are entered when a worker
// claims the stage; the paired done state is committed on success.
const (
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateScripting       State = "scripting"
	StateScripted        State = "scripted"
	StateNarrating       State = "narrating"
	StateNarrated        State = "narrated"
	StateSourcingClips   State = "sourcing_clips"
	StateClipsSourced    State = "clips_sourced"
	StateAssembling      State = "assembling"
	StateAssembled       State = "assembled"
	StateCaptioning      State = "captioning"
	StateCaptioned       State = "captioned"
	StateMetadataPending State = "metadata_pending"
	StateMetadataReady   State = "metadata_ready"
	StatePublishing      State = "publishing"
	StatePublished       State = "published"
	StateFailed          State = "failed"
	StateRetryableError  State = "retryable_error"
)

// rank orders the forward progression for monotonicity checks. Running and
// done states interleave; failure states are handled separately.
var rank = map[State]int{
	StatePendingApproval: 0,
	StateApproved:        1,
	StateScripting:       2,
	StateScripted:        3,
	StateNarrating:       4,
	StateNarrated:        5,
	StateSourcingClips:   6,
	StateClipsSourced:    7,
	StateAssembling:      8,
	StateAssembled:       9,
	StateCaptioning:      10,
	StateCaptioned:       11,
	StateMetadataPending: 12,
	StateMetadataReady:   13,
	StatePublishing:      14,
	StatePublished:       15,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	if _, ok := rank[s]; ok {
		return true
	}
	return s == StateFailed || s == StateRetryableError
}

// Terminal reports whether no further automatic work happens.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateFailed
}

// Running reports whether a worker is mid-stage.
func (s State) Running() bool {
	switch s {
	case StateScripting, StateNarrating, StateSourcingClips, StateAssembling,
		StateCaptioning, StateMetadataPending, StatePublishing:
		return true
	}
	return false
}

// Rank returns the forward position of a progression state, or -1 for
// failure states.
func (s State) Rank() int {
	if r, ok := rank[s]; ok {
		return r
	}
	return -1
}

// ReachableFrom reports whether moving from prev to s is a legal forward
// move in the stage DAG. Failure states are reachable from any non-terminal
// state; recovery from retryable_error re-enters the running state it left.
func (s State) ReachableFrom(prev State) bool {
	if prev == s {
		return true
	}
	if prev == StateFailed || prev == StatePublished {
		return false // terminal; only operator reset leaves these
	}
	if s == StateFailed || s == StateRetryableError {
		return true
	}
	if prev == StateRetryableError {
		// Recovery re-enters the running state the item left.
		return s.Running() || s == StateFailed || s == StateRetryableError
	}
	return s.Rank() > prev.Rank()
}

// ErrorInfo is the last error recorded on an item.
type ErrorInfo struct {
	Kind    errkind.Kind `json:"kind"`
	Message string       `json:"message"`
	Stage   string       `json:"stage"`
	At      time.Time    `json:"at"`
}

// Item is one video-to-be, mirrored between the local store and the
// dashboard row identified by RowIndex.
type Item struct {
	ID          string `json:"id"`
	Source      Source `json:"source"`
	Title       string `json:"title"`
	ConceptText string `json:"concept_text"`

	State       State     `json:"state"`
	FailedStage string    `json:"failed_stage,omitempty"`
	RetryAfter  time.Time `json:"retry_after,omitempty"`

	StageAttempts map[string]int      `json:"stage_attempts"`
	Artifacts     []artifact.Artifact `json:"artifacts"`
	LastError     *ErrorInfo          `json:"last_error,omitempty"`

	PublicationURL string `json:"publication_url,omitempty"`
	RowIndex       int64  `json:"row_index"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Attempts returns the attempt count for a stage.
func (it *Item) Attempts(stage string) int {
	if it.StageAttempts == nil {
		return 0
	}
	return it.StageAttempts[stage]
}

// ArtifactsOf returns the item's artifacts of one kind, oldest first.
func (it *Item) ArtifactsOf(kind artifact.Kind) []artifact.Artifact {
	var out []artifact.Artifact
	for _, a := range it.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// HasArtifact reports whether the item references at least one artifact of
// the kind.
func (it *Item) HasArtifact(kind artifact.Kind) bool {
	return len(it.ArtifactsOf(kind)) > 0
}

// Fingerprint derives the stable provider-side idempotency key for a
// (item, stage) pair plus an attempt-stable seed.
func (it *Item) Fingerprint(stage string, seed string) string {
	h := sha256.Sum256([]byte(it.ID + "|" + stage + "|" + seed))
	return hex.EncodeToString(h[:16])
}

// DashboardStatus maps an item state to the dashboard's status label.
func (s State) DashboardStatus() string {
	switch {
	case s == StatePendingApproval:
		return "Pending Approval"
	case s == StateApproved:
		return "Approved"
	case s == StatePublished:
		return "Completed"
	case s == StateFailed:
		return "Failed"
	default:
		return "In Progress"
	}
}

// String implements fmt.Stringer for log fields.
func (s State) String() string { return string(s) }

// Describe renders the state with failure context for the dashboard error
// column and logs.
func (it *Item) Describe() string {
	switch it.State {
	case StateFailed:
		return fmt.Sprintf("failed(%s)", it.FailedStage)
	case StateRetryableError:
		return fmt.Sprintf("retryable_error(%s, after %s)", it.FailedStage, it.RetryAfter.Format(time.RFC3339))
	default:
		return string(it.State)
	}
}
