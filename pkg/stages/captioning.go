package stages

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/media"
	"github.com/shortsforge/shortsforge/pkg/providers"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// WordAligner is the forced-alignment slice the captioning stage needs.
type WordAligner interface {
	Align(ctx context.Context, key, script, audioPath string) ([]providers.WordTiming, error)
}

// Burner renders subtitles into a video.
type Burner interface {
	Burn(ctx context.Context, videoPath, subtitlePath, outPath string) error
}

// CaptioningAdapter aligns the script to the narration and burns the
// resulting captions into the assembled video.
type CaptioningAdapter struct {
	aligner WordAligner
	burner  Burner
	store   *artifact.Store
}

// NewCaptioningAdapter wires the adapter.
func NewCaptioningAdapter(aligner WordAligner, burner Burner, store *artifact.Store) *CaptioningAdapter {
	return &CaptioningAdapter{aligner: aligner, burner: burner, store: store}
}

// Execute implements stage.Adapter.
func (a *CaptioningAdapter) Execute(ctx context.Context, it *state.Item) (stage.Result, error) {
	_, script, err := readArtifact(a.store, it, artifact.KindScript)
	if err != nil {
		return stage.Result{}, err
	}
	narration, err := latestArtifact(a.store, it, artifact.KindNarration)
	if err != nil {
		return stage.Result{}, err
	}
	video, err := latestArtifact(a.store, it, artifact.KindAssembledVideo)
	if err != nil {
		return stage.Result{}, err
	}

	key := it.Fingerprint(stage.Captioning, narration.SHA256)
	timings, err := a.aligner.Align(ctx, key, string(script), narration.Path)
	if err != nil {
		return stage.Result{}, err
	}
	cues := media.BuildCues(timings)
	if len(cues) == 0 {
		return stage.Result{}, errkind.Newf(errkind.Validation,
			"alignment for item %s produced no caption cues", it.ID)
	}

	workDir, err := os.MkdirTemp("", "caption-"+it.ID+"-")
	if err != nil {
		return stage.Result{}, errkind.New(errkind.Resource, err)
	}
	defer os.RemoveAll(workDir)

	srtPath := filepath.Join(workDir, "captions.srt")
	if err := os.WriteFile(srtPath, []byte(media.FormatSRT(cues)), 0o600); err != nil {
		return stage.Result{}, errkind.New(errkind.Resource, err)
	}
	outPath := filepath.Join(workDir, "captioned.mp4")
	if err := a.burner.Burn(ctx, video.Path, srtPath, outPath); err != nil {
		return stage.Result{}, err
	}

	art, err := finalizeFile(ctx, a.store, it.ID, artifact.KindCaptionedVideo, "mp4", stage.Captioning, outPath)
	if err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Artifacts: []artifact.Artifact{art},
		Fields:    map[string]string{"video_path": art.Path},
	}, nil
}
