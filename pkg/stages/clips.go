package stages

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/providers"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// ClipSearcher is the stock-search slice the sourcing stage needs.
type ClipSearcher interface {
	Search(ctx context.Context, key, query string, perPage int) ([]providers.Clip, error)
}

// Fetcher is the chunked-download slice the sourcing stage needs.
type Fetcher interface {
	Fetch(ctx context.Context, service, url string, w io.Writer) (int64, error)
}

// Prober reads media durations.
type Prober interface {
	Probe(ctx context.Context, path string) (float64, error)
}

const (
	maxClips       = 5
	clipCoverTail  = 0.5
	searchPageSize = 15
)

// ClipSourcingAdapter searches stock footage matching the script and
// downloads enough clips to cover the narration.
type ClipSourcingAdapter struct {
	search ClipSearcher
	fetch  Fetcher
	probe  Prober
	store  *artifact.Store
}

// NewClipSourcingAdapter wires the adapter.
func NewClipSourcingAdapter(search ClipSearcher, fetch Fetcher, probe Prober, store *artifact.Store) *ClipSourcingAdapter {
	return &ClipSourcingAdapter{search: search, fetch: fetch, probe: probe, store: store}
}

// Execute implements stage.Adapter.
func (a *ClipSourcingAdapter) Execute(ctx context.Context, it *state.Item) (stage.Result, error) {
	scriptArt, script, err := readArtifact(a.store, it, artifact.KindScript)
	if err != nil {
		return stage.Result{}, err
	}
	narration, err := latestArtifact(a.store, it, artifact.KindNarration)
	if err != nil {
		return stage.Result{}, err
	}
	narrationDur, err := a.probe.Probe(ctx, narration.Path)
	if err != nil {
		return stage.Result{}, err
	}
	target := narrationDur + clipCoverTail

	key := it.Fingerprint(stage.SourcingClips, scriptArt.SHA256)
	candidates, err := a.searchCandidates(ctx, key, it.Title, string(script))
	if err != nil {
		return stage.Result{}, err
	}

	var arts []artifact.Artifact
	covered := 0.0
	for _, clip := range candidates {
		if len(arts) >= maxClips || covered >= target {
			break
		}
		art, err := a.download(ctx, it.ID, clip)
		if err != nil {
			slog.Warn("Skipping clip that failed to download",
				"item_id", it.ID, "clip_id", clip.ID, "error", err)
			continue
		}
		arts = append(arts, art)
		covered += clip.Duration
	}
	if len(arts) == 0 {
		return stage.Result{}, errkind.Newf(errkind.Client,
			"no stock clips could be sourced for item %s", it.ID)
	}
	// Short coverage is fine: assembly loops the clips.
	return stage.Result{Artifacts: arts}, nil
}

func (a *ClipSourcingAdapter) searchCandidates(ctx context.Context, key, title, script string) ([]providers.Clip, error) {
	queries := searchQueries(title, script)
	var all []providers.Clip
	seen := map[int64]bool{}
	for _, q := range queries {
		clips, err := a.search.Search(ctx, key, q, searchPageSize)
		if err != nil {
			if errkind.KindOf(err) == errkind.Client {
				continue // no results for this query; try the next
			}
			return nil, err
		}
		for _, c := range clips {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			all = append(all, c)
		}
	}
	if len(all) == 0 {
		return nil, errkind.Newf(errkind.Client, "no stock clips found for any query")
	}
	// Prefer portrait clips, then longer ones: fewer loops, fewer cuts.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Portrait() != all[j].Portrait() {
			return all[i].Portrait()
		}
		return all[i].Duration > all[j].Duration
	})
	return all, nil
}

func (a *ClipSourcingAdapter) download(ctx context.Context, itemID string, clip providers.Clip) (artifact.Artifact, error) {
	p, err := a.store.Begin(itemID, artifact.KindStockClip, "mp4")
	if err != nil {
		return artifact.Artifact{}, err
	}
	defer p.Abort()
	if _, err := a.fetch.Fetch(ctx, providers.ServiceStockClips, clip.URL, p); err != nil {
		return artifact.Artifact{}, err
	}
	return p.Finalize(ctx, stage.SourcingClips)
}

// stopWords are skipped when deriving search queries from the script.
var stopWords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"from": true, "have": true, "what": true, "your": true, "about": true,
	"they": true, "their": true, "there": true, "will": true, "would": true,
	"could": true, "every": true, "which": true, "when": true, "where": true,
	"into": true, "than": true, "then": true, "them": true, "because": true,
}

// searchQueries derives up to three keyword queries: the title first, then
// the most frequent substantive words of the script.
func searchQueries(title, script string) []string {
	queries := []string{}
	if t := strings.TrimSpace(title); t != "" {
		queries = append(queries, t)
	}

	freq := map[string]int{}
	for _, raw := range strings.Fields(strings.ToLower(script)) {
		word := strings.Trim(raw, ".,!?;:\"'()-")
		if len(word) < 4 || stopWords[word] {
			continue
		}
		freq[word]++
	}
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	for _, w := range words {
		if len(queries) >= 3 {
			break
		}
		queries = append(queries, w)
	}
	return queries
}
