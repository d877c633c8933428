package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortsforge/shortsforge/pkg/dashboard"
	"github.com/shortsforge/shortsforge/pkg/providers"
	"github.com/shortsforge/shortsforge/pkg/state"
)

// IdeaGenerator is the ideation slice of the text-generation client.
type IdeaGenerator interface {
	GenerateIdeas(ctx context.Context, key, angle string, n int) ([]providers.Idea, error)
}

// TrendLister is the social-trend source. A disabled source returns nil, nil.
type TrendLister interface {
	List(ctx context.Context, limit int) ([]providers.Trend, error)
}

// CreationObserver counts newly sourced items, typically backed by a
// prometheus counter.
type CreationObserver interface {
	ItemCreated(source string)
}

// Sourcer creates new pending-approval items from AI ideation and, when
// configured, from social trends. Every new item lands on the dashboard
// first so the operator sees it even if the local write fails.
type Sourcer struct {
	machine *state.Machine
	dash    dashboard.Adapter
	ideas   IdeaGenerator
	trends  TrendLister
	obs     CreationObserver

	ideasPerRun int
	trendLimit  int
}

// NewSourcer wires the sourcer. trends may be nil.
func NewSourcer(machine *state.Machine, dash dashboard.Adapter, ideas IdeaGenerator, trends TrendLister, ideasPerRun, trendLimit int) *Sourcer {
	if ideasPerRun <= 0 {
		ideasPerRun = 3
	}
	if trendLimit <= 0 {
		trendLimit = 3
	}
	return &Sourcer{
		machine:     machine,
		dash:        dash,
		ideas:       ideas,
		trends:      trends,
		ideasPerRun: ideasPerRun,
		trendLimit:  trendLimit,
	}
}

// Source runs one sourcing pass and returns how many items were created.
// A trend-source failure degrades to ideation only.
func (s *Sourcer) Source(ctx context.Context) (int, error) {
	existing, err := s.existingTitles(ctx)
	if err != nil {
		return 0, err
	}
	created := 0

	if s.trends != nil {
		trends, err := s.trends.List(ctx, s.trendLimit)
		if err != nil {
			slog.Warn("Trend sourcing failed, continuing with ideation only", "error", err)
		}
		for _, tr := range trends {
			if existing[normalizeTitle(tr.Title)] {
				continue
			}
			concept := fmt.Sprintf("Trending in r/%s (score %d): %s", tr.Category, tr.Score, tr.Title)
			if s.createItem(ctx, state.SourceSocialTrend, tr.Title, concept) {
				existing[normalizeTitle(tr.Title)] = true
				created++
			}
		}
	}

	angle := providers.TopicAngle(time.Now().YearDay())
	key := "ideation-" + time.Now().UTC().Format("2006-01-02")
	ideas, err := s.ideas.GenerateIdeas(ctx, key, angle, s.ideasPerRun)
	if err != nil {
		if created > 0 {
			slog.Warn("Ideation failed after trend sourcing", "error", err)
			return created, nil
		}
		return 0, err
	}
	for _, idea := range ideas {
		if existing[normalizeTitle(idea.Title)] {
			continue
		}
		if s.createItem(ctx, state.SourceAIIdeation, idea.Title, idea.Concept) {
			existing[normalizeTitle(idea.Title)] = true
			created++
		}
	}
	return created, nil
}

func (s *Sourcer) createItem(ctx context.Context, source state.Source, title, concept string) bool {
	id := "itm-" + uuid.NewString()[:8]
	idx, err := s.dash.AppendItem(ctx, dashboard.Row{
		ItemID: id,
		Source: string(source),
		Title:  title,
		Status: dashboard.StatusPendingApproval,
	})
	if err != nil {
		slog.Error("Failed to append dashboard row for new item",
			"item_id", id, "title", title, "error", err)
		return false
	}
	it := &state.Item{
		ID:          id,
		Source:      source,
		Title:       title,
		ConceptText: concept,
		RowIndex:    idx,
	}
	if err := s.machine.Create(ctx, it); err != nil {
		// The row stays visible; startup reconcile reports it as an orphan.
		slog.Error("Failed to persist new item", "item_id", id, "error", err)
		return false
	}
	if s.obs != nil {
		s.obs.ItemCreated(string(source))
	}
	slog.Info("Sourced new item", "item_id", id, "source", source, "title", title)
	return true
}

// WithObserver attaches a creation observer and returns the sourcer.
func (s *Sourcer) WithObserver(o CreationObserver) *Sourcer {
	s.obs = o
	return s
}

// existingTitles guards against re-proposing the same topic run after run.
func (s *Sourcer) existingTitles(ctx context.Context) (map[string]bool, error) {
	rows, err := s.dash.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing dashboard items: %w", err)
	}
	titles := make(map[string]bool, len(rows))
	for _, r := range rows {
		titles[normalizeTitle(r.Title)] = true
	}
	return titles, nil
}

func normalizeTitle(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), " ")
}
