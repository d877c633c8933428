package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
	"github.com/shortsforge/shortsforge/pkg/validation"
)

// WordTiming is one aligned word with start/end seconds in the narration.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Aligner produces word-level timings between script text and narration
// audio. The wire shape follows the ElevenLabs forced-alignment API.
type Aligner struct {
	caller  *resilience.Caller
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewAligner creates the client. baseURL is overridable for tests.
func NewAligner(caller *resilience.Caller, apiKey, baseURL string) *Aligner {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return &Aligner{
		caller:  caller,
		client:  resilience.ClassGeneration.HTTPClient(),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type alignResponse struct {
	Words []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Align uploads the narration with the script text and returns word timings
// ordered by start time.
func (a *Aligner) Align(ctx context.Context, key, script, audioPath string) ([]WordTiming, error) {
	var timings []WordTiming
	err := a.caller.Do(ctx, resilience.CallSpec{
		Service:        ServiceAligner,
		Class:          resilience.ClassGeneration,
		IdempotencyKey: key,
		MaxAttempts:    2,
	}, func(ctx context.Context) error {
		body, contentType, err := alignRequestBody(script, audioPath)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.baseURL+"/v1/forced-alignment", body)
		if err != nil {
			return errkind.New(errkind.Unexpected, err).WithService(ServiceAligner)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("xi-api-key", a.apiKey)

		resp, err := a.client.Do(req)
		if err != nil {
			return errkind.New(errkind.KindOf(err), err).WithService(ServiceAligner)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return errkind.New(errkind.FromHTTPStatus(resp.StatusCode),
				fmt.Errorf("alignment failed: status %d: %s", resp.StatusCode, snippet)).
				WithService(ServiceAligner)
		}

		var decoded alignResponse
		if err := validation.DecodeJSONLoose(ServiceAligner, resp.Body, &decoded); err != nil {
			return err
		}
		timings = timings[:0]
		for _, w := range decoded.Words {
			if w.Text == "" || w.End < w.Start || w.Start < 0 {
				continue
			}
			timings = append(timings, WordTiming{Word: w.Text, Start: w.Start, End: w.End})
		}
		if len(timings) == 0 {
			return errkind.Newf(errkind.Validation, "alignment returned no words").
				WithService(ServiceAligner)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return timings, nil
}

func alignRequestBody(script, audioPath string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", errkind.New(errkind.Resource,
			fmt.Errorf("opening narration for alignment: %w", err)).WithService(ServiceAligner)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "narration.mp3")
	if err == nil {
		_, err = io.Copy(part, f)
	}
	if err == nil {
		err = mw.WriteField("text", script)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, "", errkind.New(errkind.Resource,
			fmt.Errorf("building alignment request: %w", err)).WithService(ServiceAligner)
	}
	return &buf, mw.FormDataContentType(), nil
}
