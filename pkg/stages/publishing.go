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

// VideoUploader is the publishing slice the final stage needs.
type VideoUploader interface {
	Upload(ctx context.Context, key, videoPath string, meta providers.VideoMetadata, settings providers.UploadSettings) (string, error)
}

// PublishingAdapter uploads the captioned video with its metadata and
// reports the public URL.
type PublishingAdapter struct {
	uploader VideoUploader
	store    *artifact.Store
	settings providers.UploadSettings
}

// NewPublishingAdapter wires the adapter.
func NewPublishingAdapter(uploader VideoUploader, store *artifact.Store, settings providers.UploadSettings) *PublishingAdapter {
	return &PublishingAdapter{uploader: uploader, store: store, settings: settings}
}

// Execute implements stage.Adapter.
func (a *PublishingAdapter) Execute(ctx context.Context, it *state.Item) (stage.Result, error) {
	_, metaRaw, err := readArtifact(a.store, it, artifact.KindMetadataJSON)
	if err != nil {
		return stage.Result{}, err
	}
	var meta providers.VideoMetadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return stage.Result{}, errkind.New(errkind.Validation, err)
	}
	video, err := latestArtifact(a.store, it, artifact.KindCaptionedVideo)
	if err != nil {
		return stage.Result{}, err
	}

	key := it.Fingerprint(stage.Publishing, video.SHA256)
	url, err := a.uploader.Upload(ctx, key, video.Path, meta, a.settings)
	if err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Fields: map[string]string{"published_url": url},
	}, nil
}
