package stages

import (
	"context"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// ScriptGenerator is the text-generation slice the scripting stage needs.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, key, concept string, targetWords int) (string, error)
}

// ScriptingAdapter turns an approved concept into a narration script.
type ScriptingAdapter struct {
	gen         ScriptGenerator
	store       *artifact.Store
	targetWords int
}

// NewScriptingAdapter wires the adapter.
func NewScriptingAdapter(gen ScriptGenerator, store *artifact.Store, targetWords int) *ScriptingAdapter {
	if targetWords <= 0 {
		targetWords = 160
	}
	return &ScriptingAdapter{gen: gen, store: store, targetWords: targetWords}
}

// Execute implements stage.Adapter.
func (a *ScriptingAdapter) Execute(ctx context.Context, it *state.Item) (stage.Result, error) {
	key := it.Fingerprint(stage.Scripting, it.ConceptText)
	script, err := a.gen.GenerateScript(ctx, key, it.ConceptText, a.targetWords)
	if err != nil {
		return stage.Result{}, err
	}

	art, err := finalizeBytes(ctx, a.store, it.ID, artifact.KindScript, "txt", stage.Scripting, []byte(script))
	if err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Artifacts: []artifact.Artifact{art},
		Fields:    map[string]string{"script": script},
	}, nil
}
