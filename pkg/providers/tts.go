package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
)

// maxNarrationBytes bounds a synthesized narration download.
const maxNarrationBytes = 64 << 20

// TTS is the text-to-speech client. The wire shape follows the ElevenLabs
// streaming synthesis API.
type TTS struct {
	caller  *resilience.Caller
	client  *http.Client
	baseURL string
	apiKey  string
	voiceID string
}

// NewTTS creates the client. baseURL is overridable for tests; voiceID
// empty selects the default narrator voice.
func NewTTS(caller *resilience.Caller, apiKey, baseURL, voiceID string) *TTS {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	return &TTS{
		caller:  caller,
		client:  resilience.ClassGeneration.HTTPClient(),
		baseURL: baseURL,
		apiKey:  apiKey,
		voiceID: voiceID,
	}
}

type ttsRequest struct {
	Text          string      `json:"text"`
	ModelID       string      `json:"model_id"`
	VoiceSettings ttsSettings `json:"voice_settings"`
}

type ttsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize streams mono narration audio for the text into w and returns
// the byte count. The whole call runs under the generation class deadline.
func (t *TTS) Synthesize(ctx context.Context, key, text string, w io.Writer) (int64, error) {
	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", t.baseURL, t.voiceID)
	var written int64
	err := t.caller.Do(ctx, resilience.CallSpec{
		Service:        ServiceTTS,
		Class:          resilience.ClassGeneration,
		IdempotencyKey: key,
	}, func(ctx context.Context) error {
		body := ttsRequest{
			Text:          text,
			ModelID:       "eleven_turbo_v2_5",
			VoiceSettings: ttsSettings{Stability: 0.5, SimilarityBoost: 0.75},
		}
		req, err := newJSONRequest(ctx, http.MethodPost, url, body)
		if err != nil {
			return errkind.New(errkind.Unexpected, err).WithService(ServiceTTS)
		}
		req.Header.Set("xi-api-key", t.apiKey)
		req.Header.Set("Accept", "audio/mpeg")

		resp, err := t.client.Do(req)
		if err != nil {
			return errkind.New(errkind.KindOf(err), err).WithService(ServiceTTS)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return errkind.New(errkind.FromHTTPStatus(resp.StatusCode),
				fmt.Errorf("synthesis failed: status %d: %s", resp.StatusCode, snippet)).
				WithService(ServiceTTS)
		}

		// Single attempt: a partial stream into w cannot be retried here,
		// so requeueing the stage owns the retry.
		n, err := io.Copy(w, io.LimitReader(resp.Body, maxNarrationBytes))
		written = n
		if err != nil {
			return errkind.New(errkind.Transient,
				fmt.Errorf("streaming narration: %w", err)).WithService(ServiceTTS)
		}
		if n == 0 {
			return errkind.Newf(errkind.Validation, "synthesis returned no audio").
				WithService(ServiceTTS)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
