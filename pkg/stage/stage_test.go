package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/state"
)

func itemIn(st state.State, kinds ...artifact.Kind) *state.Item {
	it := &state.Item{
		ID: "I1", Source: state.SourceAIIdeation, ConceptText: "rivers",
		State: st, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	for _, k := range kinds {
		it.Artifacts = append(it.Artifacts, artifact.Artifact{
			ItemID: "I1", Kind: k, Path: "/a/" + string(k), SHA256: "s-" + string(k),
		})
	}
	return it
}

func TestRegistryCoversPipeline(t *testing.T) {
	r := NewRegistry()
	names := r.Names()
	assert.Equal(t, []string{
		Scripting, Narrating, SourcingClips, Assembling,
		Captioning, Metadata, Publishing,
	}, names)

	// Each stage's From must be the previous stage's Done.
	defs := r.Stages()
	for i := 1; i < len(defs); i++ {
		assert.Equal(t, defs[i-1].Done, defs[i].From,
			"%s must start where %s ends", defs[i].Name, defs[i-1].Name)
	}
}

func TestNextResolvesUniqueStage(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		item *state.Item
		want string
		ok   bool
	}{
		{"approved goes to scripting", itemIn(state.StateApproved), Scripting, true},
		{"scripted goes to narrating", itemIn(state.StateScripted, artifact.KindScript), Narrating, true},
		{"scripted without script artifact is not ready", itemIn(state.StateScripted), "", false},
		{"narrated goes to clip sourcing", itemIn(state.StateNarrated, artifact.KindScript, artifact.KindNarration), SourcingClips, true},
		{"metadata_ready goes to publishing", itemIn(state.StateMetadataReady, artifact.KindCaptionedVideo, artifact.KindMetadataJSON), Publishing, true},
		{"pending approval has no stage", itemIn(state.StatePendingApproval), "", false},
		{"published is terminal", itemIn(state.StatePublished), "", false},
		{"failed is terminal", itemIn(state.StateFailed), "", false},
		{"running item is not redispatched", itemIn(state.StateNarrating), "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := r.Next(tc.item)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, d.Name)
			}
		})
	}
}

func TestNextResumesRetryableAtFailedStage(t *testing.T) {
	r := NewRegistry()
	it := itemIn(state.StateRetryableError, artifact.KindScript)
	it.FailedStage = Narrating

	d, ok := r.Next(it)
	require.True(t, ok)
	assert.Equal(t, Narrating, d.Name)
}

func TestIdempotencyKeyStableAcrossAttempts(t *testing.T) {
	r := NewRegistry()
	d, ok := r.Lookup(Narrating)
	require.True(t, ok)

	it := itemIn(state.StateScripted, artifact.KindScript)
	k1 := d.IdempotencyKey(it)
	it.StageAttempts = map[string]int{Narrating: 2} // attempts do not perturb the key
	k2 := d.IdempotencyKey(it)
	assert.Equal(t, k1, k2)

	// A new script generation changes the seed, so the key changes.
	it.Artifacts[0].SHA256 = "different"
	assert.NotEqual(t, k1, d.IdempotencyKey(it))
}

func TestEveryStageHasBudgetAndAttempts(t *testing.T) {
	for _, d := range NewRegistry().Stages() {
		assert.Positive(t, d.MaxAttempts, d.Name)
		assert.Positive(t, d.Budget, d.Name)
		assert.True(t, d.Class.Valid(), d.Name)
		assert.True(t, d.Running.Valid(), d.Name)
		assert.True(t, d.Done.ReachableFrom(d.Running), d.Name)
	}
}
