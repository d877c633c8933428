package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/media"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// Assembler is the muxing slice the assembly stage needs.
type Assembler interface {
	Prober
	Assemble(ctx context.Context, clips []media.Clip, narrationPath string, narrationDuration float64, outPath string) error
}

// AssemblyAdapter concatenates the sourced clips under the narration audio
// into a single portrait video.
type AssemblyAdapter struct {
	mux   Assembler
	store *artifact.Store
}

// NewAssemblyAdapter wires the adapter.
func NewAssemblyAdapter(mux Assembler, store *artifact.Store) *AssemblyAdapter {
	return &AssemblyAdapter{mux: mux, store: store}
}

// Execute implements stage.Adapter.
func (a *AssemblyAdapter) Execute(ctx context.Context, it *state.Item) (stage.Result, error) {
	narration, err := latestArtifact(a.store, it, artifact.KindNarration)
	if err != nil {
		return stage.Result{}, err
	}
	narrationDur, err := a.mux.Probe(ctx, narration.Path)
	if err != nil {
		return stage.Result{}, err
	}

	clipArts := it.ArtifactsOf(artifact.KindStockClip)
	if len(clipArts) == 0 {
		return stage.Result{}, errkind.Newf(errkind.Validation,
			"item %s has no stock clips to assemble", it.ID)
	}
	clips := make([]media.Clip, 0, len(clipArts))
	for _, ca := range clipArts {
		if err := a.store.Verify(ca); err != nil {
			return stage.Result{}, fmt.Errorf("verifying stock clip: %w", err)
		}
		dur, err := a.mux.Probe(ctx, ca.Path)
		if err != nil {
			return stage.Result{}, err
		}
		clips = append(clips, media.Clip{Path: ca.Path, Duration: dur})
	}

	workDir, err := os.MkdirTemp("", "assemble-"+it.ID+"-")
	if err != nil {
		return stage.Result{}, errkind.New(errkind.Resource, err)
	}
	defer os.RemoveAll(workDir)

	outPath := filepath.Join(workDir, "assembled.mp4")
	if err := a.mux.Assemble(ctx, clips, narration.Path, narrationDur, outPath); err != nil {
		return stage.Result{}, err
	}

	art, err := finalizeFile(ctx, a.store, it.ID, artifact.KindAssembledVideo, "mp4", stage.Assembling, outPath)
	if err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Artifacts: []artifact.Artifact{art},
		Fields:    map[string]string{"video_path": art.Path},
	}, nil
}
