package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
	"github.com/shortsforge/shortsforge/pkg/validation"
)

// Trend is one trending post usable as a video concept.
type Trend struct {
	Title    string
	Category string
	Score    int
	URL      string
}

// TrendsConfig configures the trend-ingest client. Empty credentials
// disable the source.
type TrendsConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	Categories   []string
	MinScore     int

	// BaseURL and TokenURL are overridable for tests.
	BaseURL  string
	TokenURL string
}

// Trends is the trend-ingest client backed by the Reddit OAuth API. The
// source is optional: without credentials Enabled reports false, and a
// rejection from the provider degrades the run instead of failing it.
type Trends struct {
	caller     *resilience.Caller
	client     *http.Client
	baseURL    string
	userAgent  string
	categories []string
	minScore   int
	enabled    bool
}

// NewTrends creates the client.
func NewTrends(ctx context.Context, caller *resilience.Caller, cfg TrendsConfig) *Trends {
	t := &Trends{
		caller:     caller,
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		categories: cfg.Categories,
		minScore:   cfg.MinScore,
	}
	if t.baseURL == "" {
		t.baseURL = "https://oauth.reddit.com"
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://www.reddit.com/api/v1/access_token"
	}
	if len(t.categories) == 0 {
		t.categories = []string{"todayilearned", "interestingasfuck", "explainlikeimfive"}
	}
	if t.minScore <= 0 {
		t.minScore = 500
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		slog.Info("Trend source disabled: no credentials configured")
		return t
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	t.client = conf.Client(ctx)
	t.client.Timeout = resilience.ClassAPI.OverallTimeout()
	t.enabled = true
	return t
}

// Enabled reports whether the trend source is configured.
func (t *Trends) Enabled() bool { return t.enabled }

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title     string `json:"title"`
				Score     int    `json:"score"`
				Permalink string `json:"permalink"`
				Stickied  bool   `json:"stickied"`
				Over18    bool   `json:"over_18"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// List returns today's qualifying posts across the configured categories,
// at most limit in total. An auth rejection disables the source for the
// rest of the process and returns an empty list: ideation proceeds AI-only.
func (t *Trends) List(ctx context.Context, limit int) ([]Trend, error) {
	if !t.enabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var out []Trend
	for _, category := range t.categories {
		if len(out) >= limit {
			break
		}
		trends, err := t.listCategory(ctx, category)
		if err != nil {
			kind := errkind.KindOf(err)
			if kind == errkind.Auth || kind == errkind.Client {
				slog.Warn("Trend source rejected request; continuing AI-only",
					"category", category, "kind", string(kind))
				t.enabled = false
				return nil, nil
			}
			return nil, err
		}
		for _, tr := range trends {
			if len(out) >= limit {
				break
			}
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *Trends) listCategory(ctx context.Context, category string) ([]Trend, error) {
	endpoint := fmt.Sprintf("%s/r/%s/top.json?t=day&limit=25", t.baseURL, category)
	var trends []Trend
	err := t.caller.Do(ctx, resilience.CallSpec{
		Service:     ServiceTrends,
		Class:       resilience.ClassAPI,
		MaxAttempts: 2,
	}, func(ctx context.Context) error {
		var listing redditListing
		err := jsonCall(ctx, t.client, ServiceTrends, http.MethodGet, endpoint,
			map[string]string{"User-Agent": t.userAgent}, nil, &listing)
		if err != nil {
			return err
		}
		trends = trends[:0]
		for _, child := range listing.Data.Children {
			post := child.Data
			if post.Stickied || post.Over18 || post.Score < t.minScore {
				continue
			}
			if err := validation.CheckText("trend_title", post.Title, 300); err != nil {
				continue
			}
			trends = append(trends, Trend{
				Title:    post.Title,
				Category: category,
				Score:    post.Score,
				URL:      "https://www.reddit.com" + post.Permalink,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trends, nil
}
