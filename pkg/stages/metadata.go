package stages

import (
	"context"
	"encoding/json"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/providers"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// MetadataGenerator is the text-generation slice the metadata stage needs.
type MetadataGenerator interface {
	GenerateMetadata(ctx context.Context, key, title, script string) (providers.VideoMetadata, error)
}

// MetadataAdapter writes publication metadata for the finished video.
type MetadataAdapter struct {
	gen   MetadataGenerator
	store *artifact.Store
}

// NewMetadataAdapter wires the adapter.
func NewMetadataAdapter(gen MetadataGenerator, store *artifact.Store) *MetadataAdapter {
	return &MetadataAdapter{gen: gen, store: store}
}

// Execute implements stage.Adapter.
func (a *MetadataAdapter) Execute(ctx context.Context, it *state.Item) (stage.Result, error) {
	scriptArt, script, err := readArtifact(a.store, it, artifact.KindScript)
	if err != nil {
		return stage.Result{}, err
	}

	key := it.Fingerprint(stage.Metadata, scriptArt.SHA256)
	meta, err := a.gen.GenerateMetadata(ctx, key, it.Title, string(script))
	if err != nil {
		return stage.Result{}, err
	}

	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return stage.Result{}, errkind.New(errkind.Unexpected, err)
	}
	art, err := finalizeBytes(ctx, a.store, it.ID, artifact.KindMetadataJSON, "json", stage.Metadata, encoded)
	if err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Artifacts: []artifact.Artifact{art},
		Fields:    map[string]string{"title": meta.Title},
	}, nil
}
