package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
)

// Clip is one stock-footage candidate.
type Clip struct {
	ID       int64
	URL      string
	Width    int
	Height   int
	Duration float64
}

// Portrait reports whether the clip is taller than wide.
func (c Clip) Portrait() bool { return c.Height > c.Width }

// StockSearch is the stock-footage search client. The wire shape follows
// the Pexels video search API.
type StockSearch struct {
	caller  *resilience.Caller
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewStockSearch creates the client. baseURL is overridable for tests.
func NewStockSearch(caller *resilience.Caller, apiKey, baseURL string) *StockSearch {
	if baseURL == "" {
		baseURL = "https://api.pexels.com"
	}
	return &StockSearch{
		caller:  caller,
		client:  resilience.ClassSearch.HTTPClient(),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type pexelsSearchResponse struct {
	Videos []struct {
		ID         int64   `json:"id"`
		Width      int     `json:"width"`
		Height     int     `json:"height"`
		Duration   float64 `json:"duration"`
		VideoFiles []struct {
			Link     string `json:"link"`
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			FileType string `json:"file_type"`
		} `json:"video_files"`
	} `json:"videos"`
}

// Search returns portrait-friendly clip candidates for a keyword, best
// resolution file per video, highest resolution first is not guaranteed;
// callers pick by duration fit.
func (s *StockSearch) Search(ctx context.Context, key, query string, perPage int) ([]Clip, error) {
	if perPage <= 0 || perPage > 80 {
		perPage = 15
	}
	endpoint := fmt.Sprintf("%s/videos/search?%s", s.baseURL, url.Values{
		"query":       {query},
		"orientation": {"portrait"},
		"per_page":    {fmt.Sprint(perPage)},
	}.Encode())

	var clips []Clip
	err := s.caller.Do(ctx, resilience.CallSpec{
		Service:        ServiceStockClips,
		Class:          resilience.ClassSearch,
		IdempotencyKey: key,
		MaxAttempts:    3,
	}, func(ctx context.Context) error {
		var resp pexelsSearchResponse
		err := jsonCall(ctx, s.client, ServiceStockClips, http.MethodGet, endpoint,
			map[string]string{"Authorization": s.apiKey}, nil, &resp)
		if err != nil {
			return err
		}
		clips = clips[:0]
		for _, v := range resp.Videos {
			best := bestFile(v.VideoFiles)
			if best == "" || v.Duration <= 0 {
				continue
			}
			clips = append(clips, Clip{
				ID: v.ID, URL: best,
				Width: v.Width, Height: v.Height, Duration: v.Duration,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, errkind.Newf(errkind.Client, "no stock clips found for %q", query).
			WithService(ServiceStockClips)
	}
	return clips, nil
}

// bestFile picks the highest-resolution mp4 rendition.
func bestFile(files []struct {
	Link     string `json:"link"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileType string `json:"file_type"`
}) string {
	best, bestPixels := "", 0
	for _, f := range files {
		if f.FileType != "video/mp4" {
			continue
		}
		if p := f.Width * f.Height; p > bestPixels {
			best, bestPixels = f.Link, p
		}
	}
	return best
}
