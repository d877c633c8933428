package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
)

// UploadSettings are the operator-controlled publication knobs.
type UploadSettings struct {
	CategoryID  string // default "27" (Education)
	Privacy     string // private | unlisted | public
	MadeForKids bool
}

// Uploader publishes captioned videos. Backed by the YouTube Data API with
// a resumable chunked upload.
type Uploader struct {
	caller *resilience.Caller
	svc    *youtube.Service
}

// NewUploader builds the uploader from an OAuth client-secrets file and a
// previously stored refresh token. Both live under the credentials
// directory and are never logged.
func NewUploader(ctx context.Context, caller *resilience.Caller, clientSecretsFile, tokenFile string) (*Uploader, error) {
	secrets, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, errkind.New(errkind.Auth,
			fmt.Errorf("reading upload client secrets: %w", err)).WithService(ServiceUpload)
	}
	conf, err := google.ConfigFromJSON(secrets, youtube.YoutubeUploadScope)
	if err != nil {
		return nil, errkind.New(errkind.Auth,
			fmt.Errorf("parsing upload client secrets: %w", err)).WithService(ServiceUpload)
	}

	tokenBytes, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, errkind.New(errkind.Auth,
			fmt.Errorf("reading upload token (run the provider's auth flow first): %w", err)).
			WithService(ServiceUpload)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenBytes, &token); err != nil {
		return nil, errkind.New(errkind.Auth,
			fmt.Errorf("parsing upload token: %w", err)).WithService(ServiceUpload)
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, &token)))
	if err != nil {
		return nil, errkind.New(errkind.Auth,
			fmt.Errorf("creating upload client: %w", err)).WithService(ServiceUpload)
	}
	return &Uploader{caller: caller, svc: svc}, nil
}

// Upload publishes the video file with the given metadata and returns the
// public watch URL. The media transfer is chunked and resumable inside the
// stream-class deadline.
func (u *Uploader) Upload(ctx context.Context, key, videoPath string, meta VideoMetadata, settings UploadSettings) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	if settings.CategoryID == "" {
		settings.CategoryID = "27"
	}
	if settings.Privacy == "" {
		settings.Privacy = "private"
	}

	var videoID string
	err := u.caller.Do(ctx, resilience.CallSpec{
		Service:        ServiceUpload,
		Class:          resilience.ClassStream,
		IdempotencyKey: key,
	}, func(ctx context.Context) error {
		f, err := os.Open(videoPath)
		if err != nil {
			return errkind.New(errkind.Resource,
				fmt.Errorf("opening video for upload: %w", err)).WithService(ServiceUpload)
		}
		defer f.Close()

		video := &youtube.Video{
			Snippet: &youtube.VideoSnippet{
				Title:       meta.Title,
				Description: meta.Description,
				Tags:        meta.Tags,
				CategoryId:  settings.CategoryID,
			},
			Status: &youtube.VideoStatus{
				PrivacyStatus:           settings.Privacy,
				SelfDeclaredMadeForKids: settings.MadeForKids,
				ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
			},
		}

		call := u.svc.Videos.Insert([]string{"snippet", "status"}, video).
			Media(f, googleapi.ChunkSize(8<<20)).
			Context(ctx)
		inserted, err := call.Do()
		if err != nil {
			return classifyUploadErr(err)
		}
		videoID = inserted.Id
		return nil
	})
	if err != nil {
		return "", err
	}
	return "https://youtu.be/" + videoID, nil
}

func classifyUploadErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return errkind.New(errkind.FromHTTPStatus(gerr.Code), err).WithService(ServiceUpload)
	}
	return errkind.New(errkind.KindOf(err), err).WithService(ServiceUpload)
}
