package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
	"github.com/shortsforge/shortsforge/pkg/validation"
)

// Idea is one generated video concept.
type Idea struct {
	Title   string `json:"title"`
	Concept string `json:"concept"`
}

// VideoMetadata is the publication metadata produced by the metadata stage.
type VideoMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// topicAngles rotate across ideation runs so consecutive days do not pull
// from the same well.
var topicAngles = []string{
	"surprising science facts",
	"history in under a minute",
	"how everyday things work",
	"money habits that actually matter",
	"psychology tricks you can test today",
	"nature's strangest designs",
	"tech explained simply",
}

// TopicAngle returns the rotation angle for a run counter.
func TopicAngle(run int) string {
	if run < 0 {
		run = -run
	}
	return topicAngles[run%len(topicAngles)]
}

// TextGen is the text-generation client. The wire shape follows the
// Gemini generateContent REST API.
type TextGen struct {
	caller  *resilience.Caller
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
}

// NewTextGen creates the client. baseURL is overridable for tests.
func NewTextGen(caller *resilience.Caller, apiKey, baseURL, model string) *TextGen {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &TextGen{
		caller:  caller,
		client:  resilience.ClassGeneration.HTTPClient(),
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
	}
}

type genRequest struct {
	Contents []genContent `json:"contents"`
}

type genContent struct {
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text string `json:"text"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []genPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (t *TextGen) generate(ctx context.Context, key, prompt string) (string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", t.baseURL, t.model)
	var text string
	err := t.caller.Do(ctx, resilience.CallSpec{
		Service:        ServiceTextGen,
		Class:          resilience.ClassGeneration,
		IdempotencyKey: key,
	}, func(ctx context.Context) error {
		var resp genResponse
		err := jsonCall(ctx, t.client, ServiceTextGen, http.MethodPost, url,
			map[string]string{"x-goog-api-key": t.apiKey},
			genRequest{Contents: []genContent{{Parts: []genPart{{Text: prompt}}}}},
			&resp)
		if err != nil {
			return err
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return errkind.Newf(errkind.Validation, "empty generation response").
				WithService(ServiceTextGen)
		}
		text = strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
		return nil
	})
	return text, err
}

// GenerateIdeas asks for n video concepts on the given topic angle.
func (t *TextGen) GenerateIdeas(ctx context.Context, key, angle string, n int) ([]Idea, error) {
	prompt := fmt.Sprintf(
		`Generate %d ideas for short vertical videos about %s. `+
			`Respond with a JSON array only, each element {"title": "...", "concept": "..."}: `+
			`title under 90 characters, concept a two-sentence summary of what the video shows.`,
		n, angle)
	raw, err := t.generate(ctx, key, prompt)
	if err != nil {
		return nil, err
	}
	var ideas []Idea
	if err := json.Unmarshal([]byte(extractJSON(raw)), &ideas); err != nil {
		return nil, errkind.New(errkind.Validation,
			fmt.Errorf("ideation response is not a JSON idea list: %w", err)).
			WithService(ServiceTextGen)
	}
	out := ideas[:0]
	for _, idea := range ideas {
		if err := validation.CheckText("title", idea.Title, 200); err != nil {
			continue
		}
		if err := validation.CheckText("concept", idea.Concept, 2000); err != nil {
			continue
		}
		out = append(out, idea)
	}
	if len(out) == 0 {
		return nil, errkind.Newf(errkind.Validation, "no usable ideas in response").
			WithService(ServiceTextGen)
	}
	return out, nil
}

// GenerateScript produces a narration script near the target word count.
// The response is validated to 120-220 words.
func (t *TextGen) GenerateScript(ctx context.Context, key, concept string, targetWords int) (string, error) {
	if targetWords <= 0 {
		targetWords = 160
	}
	prompt := fmt.Sprintf(
		`Write a spoken narration script of about %d words for a short vertical video. `+
			`Concept: %s. Plain sentences only, no stage directions, no markdown, `+
			`hook in the first sentence, end with a question or call to action.`,
		targetWords, concept)
	script, err := t.generate(ctx, key, prompt)
	if err != nil {
		return "", err
	}
	if err := validation.CheckText("script", script, 4000); err != nil {
		return "", err
	}
	words := len(strings.Fields(script))
	if words < 120 || words > 220 {
		return "", errkind.Newf(errkind.Validation,
			"script has %d words, want 120-220", words).WithService(ServiceTextGen)
	}
	return script, nil
}

// GenerateMetadata produces publication title, description, and tags.
func (t *TextGen) GenerateMetadata(ctx context.Context, key, title, script string) (VideoMetadata, error) {
	prompt := fmt.Sprintf(
		`Write publication metadata for a short vertical video titled %q. `+
			`Script: %s. Respond with JSON only: `+
			`{"title": "...", "description": "...", "tags": ["...", ...]} with `+
			`title under 100 characters, description under 5000, at most 15 tags.`,
		title, script)
	raw, err := t.generate(ctx, key, prompt)
	if err != nil {
		return VideoMetadata{}, err
	}
	var meta VideoMetadata
	if err := json.Unmarshal([]byte(extractJSON(raw)), &meta); err != nil {
		return VideoMetadata{}, errkind.New(errkind.Validation,
			fmt.Errorf("metadata response is not JSON: %w", err)).
			WithService(ServiceTextGen)
	}
	if err := meta.Validate(); err != nil {
		return VideoMetadata{}, err
	}
	return meta, nil
}

// Validate bounds the metadata fields to publication limits.
func (m VideoMetadata) Validate() error {
	if err := validation.CheckText("title", m.Title, 100); err != nil {
		return err
	}
	if m.Title == "" {
		return errkind.Newf(errkind.Validation, "metadata title is empty")
	}
	if err := validation.CheckText("description", m.Description, 5000); err != nil {
		return err
	}
	if len(m.Tags) > 15 {
		return errkind.Newf(errkind.Validation, "metadata has %d tags, max 15", len(m.Tags))
	}
	for _, tag := range m.Tags {
		if err := validation.CheckText("tag", tag, 100); err != nil {
			return err
		}
	}
	return nil
}

// extractJSON strips markdown code fences models wrap around JSON replies.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
