// Package stages holds the stage adapters: thin translations from an item
// plus its input artifacts to one external collaborator call and one set of
// outputs. Adapters are idempotent per (item, seed), validate everything a
// provider returns, and never touch item state: claiming and committing
// belong to the dispatcher.
package stages

import (
	"context"
	"fmt"
	"os"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// latestArtifact returns the newest artifact of a kind, verified against
// the store before use.
func latestArtifact(store *artifact.Store, it *state.Item, kind artifact.Kind) (artifact.Artifact, error) {
	arts := it.ArtifactsOf(kind)
	if len(arts) == 0 {
		return artifact.Artifact{}, errkind.Newf(errkind.Validation,
			"item %s has no %s artifact", it.ID, kind)
	}
	a := arts[len(arts)-1]
	if err := store.Verify(a); err != nil {
		return artifact.Artifact{}, fmt.Errorf("verifying %s input: %w", kind, err)
	}
	return a, nil
}

// readArtifact loads a verified artifact's content.
func readArtifact(store *artifact.Store, it *state.Item, kind artifact.Kind) (artifact.Artifact, []byte, error) {
	a, err := latestArtifact(store, it, kind)
	if err != nil {
		return artifact.Artifact{}, nil, err
	}
	content, err := os.ReadFile(a.Path)
	if err != nil {
		return artifact.Artifact{}, nil, errkind.New(errkind.Resource,
			fmt.Errorf("reading %s artifact: %w", kind, err))
	}
	return a, content, nil
}

// finalizeBytes writes content as a new artifact of the kind.
func finalizeBytes(ctx context.Context, store *artifact.Store, itemID string, kind artifact.Kind, ext, stageName string, content []byte) (artifact.Artifact, error) {
	p, err := store.Begin(itemID, kind, ext)
	if err != nil {
		return artifact.Artifact{}, err
	}
	defer p.Abort()
	if _, err := p.Write(content); err != nil {
		return artifact.Artifact{}, err
	}
	return p.Finalize(ctx, stageName)
}

// finalizeFile copies an existing file (typically a child-process output)
// into the store as a new artifact.
func finalizeFile(ctx context.Context, store *artifact.Store, itemID string, kind artifact.Kind, ext, stageName, path string) (artifact.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return artifact.Artifact{}, errkind.New(errkind.Resource,
			fmt.Errorf("opening %s output: %w", stageName, err))
	}
	defer f.Close()

	p, err := store.Begin(itemID, kind, ext)
	if err != nil {
		return artifact.Artifact{}, err
	}
	defer p.Abort()
	if _, err := p.ReadFrom(f); err != nil {
		return artifact.Artifact{}, err
	}
	return p.Finalize(ctx, stageName)
}
