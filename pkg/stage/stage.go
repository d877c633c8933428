// Package stage holds the static stage registry: the single source of
// truth for the workflow graph. Each definition names its input and output
// artifact kinds, the states it moves between, its retry budget, and the
// operation class its external calls run under.
package stage

import (
	"context"
	"time"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/resilience"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// Stage names.
const (
	Scripting     = "scripting"
	Narrating     = "narrating"
	SourcingClips = "sourcing_clips"
	Assembling    = "assembling"
	Captioning    = "captioning"
	Metadata      = "metadata"
	Publishing    = "publishing"
)

// DurationBucket groups stages by expected runtime for pool sizing.
type DurationBucket string

// Duration buckets.
const (
	BucketFast   DurationBucket = "fast"   // seconds: API round-trips
	BucketMedium DurationBucket = "medium" // tens of seconds: generation, downloads
	BucketSlow   DurationBucket = "slow"   // minutes: media processing, uploads
)

// Result is what a stage adapter returns on success: finalized artifacts
// plus dashboard field updates.
type Result struct {
	Artifacts []artifact.Artifact
	Fields    map[string]string
}

// Adapter executes one stage for one item. Implementations are idempotent
// with respect to (item, seed), validate their outputs before finalizing
// artifacts, and classify every failure with errkind.
type Adapter interface {
	Execute(ctx context.Context, it *state.Item) (Result, error)
}

// Definition declares one stage of the workflow graph.
type Definition struct {
	Name string

	// From is the done state the stage starts from; Running and Done are
	// the states it moves the item through.
	From    state.State
	Running state.State
	Done    state.State

	// RequiredInputs must all be present (and verify) before dispatch.
	RequiredInputs []artifact.Kind
	// Produces lists the artifact kinds a successful run finalizes.
	Produces []artifact.Kind

	MaxAttempts int
	Class       resilience.OperationClass
	Bucket      DurationBucket

	// Budget caps one execution; the effective deadline is the minimum of
	// this, the operation-class deadline, and the drain deadline.
	Budget time.Duration

	// Seed returns the attempt-stable half of the provider idempotency key.
	Seed func(it *state.Item) string
}

// Precondition reports whether the item is ready for this stage: correct
// state and all required inputs referenced.
func (d Definition) Precondition(it *state.Item) bool {
	if it.State != d.From {
		return false
	}
	for _, kind := range d.RequiredInputs {
		if !it.HasArtifact(kind) {
			return false
		}
	}
	return true
}

// IdempotencyKey derives the provider-side dedupe key for this (item, stage).
func (d Definition) IdempotencyKey(it *state.Item) string {
	seed := ""
	if d.Seed != nil {
		seed = d.Seed(it)
	}
	return it.Fingerprint(d.Name, seed)
}

func conceptSeed(it *state.Item) string { return it.ConceptText }

func artifactSeed(kind artifact.Kind) func(it *state.Item) string {
	return func(it *state.Item) string {
		arts := it.ArtifactsOf(kind)
		if len(arts) == 0 {
			return ""
		}
		return arts[len(arts)-1].SHA256
	}
}

// table is the workflow graph, in execution order.
var table = []Definition{
	{
		Name: Scripting,
		From: state.StateApproved, Running: state.StateScripting, Done: state.StateScripted,
		Produces:    []artifact.Kind{artifact.KindScript},
		MaxAttempts: 3, Class: resilience.ClassGeneration, Bucket: BucketMedium,
		Budget: 3 * time.Minute,
		Seed:   conceptSeed,
	},
	{
		Name: Narrating,
		From: state.StateScripted, Running: state.StateNarrating, Done: state.StateNarrated,
		RequiredInputs: []artifact.Kind{artifact.KindScript},
		Produces:       []artifact.Kind{artifact.KindNarration},
		MaxAttempts:    3, Class: resilience.ClassGeneration, Bucket: BucketMedium,
		Budget: 4 * time.Minute,
		Seed:   artifactSeed(artifact.KindScript),
	},
	{
		Name: SourcingClips,
		From: state.StateNarrated, Running: state.StateSourcingClips, Done: state.StateClipsSourced,
		RequiredInputs: []artifact.Kind{artifact.KindScript, artifact.KindNarration},
		Produces:       []artifact.Kind{artifact.KindStockClip},
		MaxAttempts:    3, Class: resilience.ClassDownload, Bucket: BucketMedium,
		Budget: 8 * time.Minute,
		Seed:   artifactSeed(artifact.KindScript),
	},
	{
		Name: Assembling,
		From: state.StateClipsSourced, Running: state.StateAssembling, Done: state.StateAssembled,
		RequiredInputs: []artifact.Kind{artifact.KindNarration, artifact.KindStockClip},
		Produces:       []artifact.Kind{artifact.KindAssembledVideo},
		MaxAttempts:    2, Class: resilience.ClassStream, Bucket: BucketSlow,
		Budget: 10 * time.Minute,
		Seed:   artifactSeed(artifact.KindNarration),
	},
	{
		Name: Captioning,
		From: state.StateAssembled, Running: state.StateCaptioning, Done: state.StateCaptioned,
		RequiredInputs: []artifact.Kind{artifact.KindScript, artifact.KindNarration, artifact.KindAssembledVideo},
		Produces:       []artifact.Kind{artifact.KindCaptionedVideo},
		MaxAttempts:    2, Class: resilience.ClassStream, Bucket: BucketSlow,
		Budget: 10 * time.Minute,
		Seed:   artifactSeed(artifact.KindAssembledVideo),
	},
	{
		Name: Metadata,
		From: state.StateCaptioned, Running: state.StateMetadataPending, Done: state.StateMetadataReady,
		RequiredInputs: []artifact.Kind{artifact.KindScript},
		Produces:       []artifact.Kind{artifact.KindMetadataJSON},
		MaxAttempts:    3, Class: resilience.ClassGeneration, Bucket: BucketFast,
		Budget: 2 * time.Minute,
		Seed:   artifactSeed(artifact.KindScript),
	},
	{
		Name: Publishing,
		From: state.StateMetadataReady, Running: state.StatePublishing, Done: state.StatePublished,
		RequiredInputs: []artifact.Kind{artifact.KindCaptionedVideo, artifact.KindMetadataJSON},
		MaxAttempts:    3, Class: resilience.ClassStream, Bucket: BucketSlow,
		Budget: 15 * time.Minute,
		Seed:   artifactSeed(artifact.KindCaptionedVideo),
	},
}

// Registry binds the static table to adapter implementations.
type Registry struct {
	defs     []Definition
	byName   map[string]*Definition
	adapters map[string]Adapter
}

// NewRegistry builds the registry from the static table.
func NewRegistry() *Registry {
	r := &Registry{
		byName:   make(map[string]*Definition, len(table)),
		adapters: make(map[string]Adapter, len(table)),
	}
	r.defs = make([]Definition, len(table))
	copy(r.defs, table)
	for i := range r.defs {
		r.byName[r.defs[i].Name] = &r.defs[i]
	}
	return r
}

// Bind attaches the adapter implementing a stage.
func (r *Registry) Bind(name string, a Adapter) {
	r.adapters[name] = a
}

// Adapter returns the bound adapter for a stage.
func (r *Registry) Adapter(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Lookup returns the definition for a stage name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return *d, true
}

// Stages returns the definitions in execution order.
func (r *Registry) Stages() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names returns stage names in execution order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Name
	}
	return out
}

// Next resolves the unique next-eligible stage for an item, or false when
// the item has no runnable stage (terminal, awaiting approval, mid-stage,
// or missing inputs). Items parked in retryable_error resume the stage
// they left once requeued.
func (r *Registry) Next(it *state.Item) (Definition, bool) {
	if it.State.Terminal() || it.State.Running() {
		return Definition{}, false
	}
	if it.State == state.StateRetryableError {
		d, ok := r.byName[it.FailedStage]
		if !ok {
			return Definition{}, false
		}
		return *d, true
	}
	for _, d := range r.defs {
		if d.Precondition(it) {
			return d, true
		}
	}
	return Definition{}, false
}
