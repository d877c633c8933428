package stages

import (
	"context"
	"io"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// Synthesizer is the text-to-speech slice the narration stage needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, key, text string, w io.Writer) (int64, error)
}

// NarrationAdapter synthesizes the script into narration audio.
type NarrationAdapter struct {
	tts   Synthesizer
	store *artifact.Store
}

// NewNarrationAdapter wires the adapter.
func NewNarrationAdapter(tts Synthesizer, store *artifact.Store) *NarrationAdapter {
	return &NarrationAdapter{tts: tts, store: store}
}

// Execute implements stage.Adapter.
func (a *NarrationAdapter) Execute(ctx context.Context, it *state.Item) (stage.Result, error) {
	scriptArt, script, err := readArtifact(a.store, it, artifact.KindScript)
	if err != nil {
		return stage.Result{}, err
	}

	p, err := a.store.Begin(it.ID, artifact.KindNarration, "mp3")
	if err != nil {
		return stage.Result{}, err
	}
	defer p.Abort()

	key := it.Fingerprint(stage.Narrating, scriptArt.SHA256)
	if _, err := a.tts.Synthesize(ctx, key, string(script), p); err != nil {
		return stage.Result{}, err
	}
	art, err := p.Finalize(ctx, stage.Narrating)
	if err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Artifacts: []artifact.Artifact{art},
		Fields:    map[string]string{"audio_path": art.Path},
	}, nil
}
