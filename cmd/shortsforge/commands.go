package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/shortsforge/shortsforge/pkg/api"
	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/config"
	"github.com/shortsforge/shortsforge/pkg/dashboard"
	"github.com/shortsforge/shortsforge/pkg/masking"
	"github.com/shortsforge/shortsforge/pkg/media"
	"github.com/shortsforge/shortsforge/pkg/metrics"
	"github.com/shortsforge/shortsforge/pkg/providers"
	"github.com/shortsforge/shortsforge/pkg/queue"
	"github.com/shortsforge/shortsforge/pkg/resilience"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/stages"
	"github.com/shortsforge/shortsforge/pkg/state"
	"github.com/shortsforge/shortsforge/pkg/supervisor"
)

type loadFunc func() (*config.Config, error)

// core is the state layer every command needs.
type core struct {
	cfg     *config.Config
	db      *state.DB
	store   *artifact.Store
	dash    dashboard.Adapter
	machine *state.Machine
	caller  *resilience.Caller
	mets    *metrics.Metrics
}

func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	if err := os.MkdirAll(cfg.Paths.StateDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.CredentialsDir(), 0o700); err != nil {
		return nil, fmt.Errorf("creating credentials dir: %w", err)
	}

	db, err := state.Open(cfg.Paths.ItemsDB())
	if err != nil {
		return nil, err
	}
	store, err := artifact.NewStore(cfg.Paths.ArtifactsDir(), artifact.NewItemLocks())
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	mets := metrics.New()
	caller := resilience.NewCaller(cfg.Resilience, mets)

	var dash dashboard.Adapter
	if cfg.Providers.SpreadsheetID != "" {
		dash, err = dashboard.NewSheets(ctx, cfg.Providers.SpreadsheetID,
			cfg.Providers.SheetsCredentialFile, caller)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	} else {
		slog.Warn("No SPREADSHEET_ID configured, dashboard updates are discarded")
		dash = dashboard.NewFake()
	}

	machine := state.NewMachine(state.DefaultMachineConfig(), db, dash, store, masking.NewService())
	return &core{
		cfg: cfg, db: db, store: store, dash: dash,
		machine: machine, caller: caller, mets: mets,
	}, nil
}

func (c *core) close() {
	if err := c.db.Close(); err != nil {
		slog.Error("Error closing state database", "error", err)
	}
}

// lazyUploader defers publishing-credential checks to the first upload so
// earlier stages can run in environments without publish access.
type lazyUploader struct {
	caller      *resilience.Caller
	secretsFile string
	tokenFile   string

	mu sync.Mutex
	u  *providers.Uploader
}

func (l *lazyUploader) Upload(ctx context.Context, key, videoPath string, meta providers.VideoMetadata, settings providers.UploadSettings) (string, error) {
	l.mu.Lock()
	if l.u == nil {
		u, err := providers.NewUploader(ctx, l.caller, l.secretsFile, l.tokenFile)
		if err != nil {
			l.mu.Unlock()
			return "", err
		}
		l.u = u
	}
	u := l.u
	l.mu.Unlock()
	return u.Upload(ctx, key, videoPath, meta, settings)
}

// buildSupervisor wires providers, adapters, pool, and sourcer on top of
// the core.
func buildSupervisor(ctx context.Context, c *core) *supervisor.Supervisor {
	p := c.cfg.Providers
	textgen := providers.NewTextGen(c.caller, p.TextGenAPIKey, "", "")
	tts := providers.NewTTS(c.caller, p.TTSAPIKey, "", "")
	aligner := providers.NewAligner(c.caller, p.TTSAPIKey, "")
	stock := providers.NewStockSearch(c.caller, p.StockAPIKey, "")
	downloader := providers.NewDownloader(c.caller)
	muxer := media.NewMuxer("", "")
	uploader := &lazyUploader{
		caller:      c.caller,
		secretsFile: p.UploadClientSecretsFile,
		tokenFile:   p.UploadTokenFile,
	}
	settings := providers.UploadSettings{
		CategoryID:  p.UploadCategoryID,
		Privacy:     p.UploadPrivacy,
		MadeForKids: p.UploadMadeForKids,
	}

	registry := stage.NewRegistry()
	registry.Bind(stage.Scripting, stages.NewScriptingAdapter(textgen, c.store, p.ScriptWordCount))
	registry.Bind(stage.Narrating, stages.NewNarrationAdapter(tts, c.store))
	registry.Bind(stage.SourcingClips, stages.NewClipSourcingAdapter(stock, downloader, muxer, c.store))
	registry.Bind(stage.Assembling, stages.NewAssemblyAdapter(muxer, c.store))
	registry.Bind(stage.Captioning, stages.NewCaptioningAdapter(aligner, muxer, c.store))
	registry.Bind(stage.Metadata, stages.NewMetadataAdapter(textgen, c.store))
	registry.Bind(stage.Publishing, stages.NewPublishingAdapter(uploader, c.store, settings))

	var trends stages.TrendLister
	if p.TrendSourceConfigured() {
		trends = providers.NewTrends(ctx, c.caller, providers.TrendsConfig{
			ClientID:     p.TrendClientID,
			ClientSecret: p.TrendClientSecret,
			UserAgent:    p.TrendUserAgent,
			Categories:   p.TrendCategories,
			MinScore:     p.TrendMinScore,
		})
	}
	sourcer := stages.NewSourcer(c.machine, c.dash, textgen, trends,
		p.IdeasPerRun, p.IdeasPerRun).WithObserver(c.mets)

	dispatcher := supervisor.NewDispatcher(c.machine, registry).WithObserver(c.mets)
	pool := queue.NewPool(c.cfg.Queue, registry, dispatcher)
	gc := artifact.NewCollector(c.cfg.Retention, c.store, c.db)

	return supervisor.New(c.cfg, c.machine, registry, pool, c.dash, sourcer, c.caller, gc)
}

func runPipeline(ctx context.Context, load loadFunc, code *int, loop bool) error {
	cfg, err := load()
	if err != nil {
		*code = exitConfig
		return err
	}
	if err := config.ValidateForRun(cfg); err != nil {
		*code = exitConfig
		return err
	}
	c, err := buildCore(ctx, cfg)
	if err != nil {
		*code = exitRuntime
		return err
	}
	defer c.close()

	sup := buildSupervisor(ctx, c)
	srv := api.NewServer(sup, c.db, c.mets.Handler())
	srv.Start(cfg.HTTPPort)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	if loop {
		err = sup.RunLoop(ctx)
	} else {
		err = sup.RunOnce(ctx)
	}
	if err != nil && ctx.Err() == nil {
		*code = exitRuntime
		return err
	}
	return nil
}

func newRunOnceCmd(ctx context.Context, load loadFunc, code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Source, process, and drain a single production pass",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runPipeline(ctx, load, code, false)
		},
	}
}

func newRunLoopCmd(ctx context.Context, load loadFunc, code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "run-loop",
		Short: "Run continuously with scheduled daily sourcing",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runPipeline(ctx, load, code, true)
		},
	}
}

func newResetCmd(ctx context.Context, load loadFunc, code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <item_id>",
		Short: "Reset a failed item to its last state with verified artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				*code = exitConfig
				return err
			}
			c, err := buildCore(ctx, cfg)
			if err != nil {
				*code = exitRuntime
				return err
			}
			defer c.close()

			it, err := c.machine.Reset(ctx, args[0])
			if err != nil {
				*code = exitRuntime
				return err
			}
			fmt.Printf("%s reset to %s\n", it.ID, it.State)
			return nil
		},
	}
}

func newStatusCmd(ctx context.Context, load loadFunc, code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print items grouped by pipeline state",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := load()
			if err != nil {
				*code = exitConfig
				return err
			}
			c, err := buildCore(ctx, cfg)
			if err != nil {
				*code = exitRuntime
				return err
			}
			defer c.close()

			items, err := c.db.List(ctx)
			if err != nil {
				*code = exitRuntime
				return err
			}
			printStatus(items)
			return nil
		},
	}
}

func printStatus(items []*state.Item) {
	if len(items) == 0 {
		fmt.Println("no items")
		return
	}
	byState := map[state.State][]*state.Item{}
	for _, it := range items {
		byState[it.State] = append(byState[it.State], it)
	}
	states := make([]string, 0, len(byState))
	for st := range byState {
		states = append(states, string(st))
	}
	sort.Strings(states)
	for _, st := range states {
		group := byState[state.State(st)]
		fmt.Printf("%s (%d)\n", st, len(group))
		for _, it := range group {
			line := fmt.Sprintf("  %s  %s", it.ID, it.Title)
			if it.PublicationURL != "" {
				line += "  " + it.PublicationURL
			}
			if it.LastError != nil {
				line += "  [" + it.LastError.Message + "]"
			}
			fmt.Println(line)
		}
	}
}

func newGCCmd(ctx context.Context, load loadFunc, code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove artifacts of terminal items past the retention grace period",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := load()
			if err != nil {
				*code = exitConfig
				return err
			}
			c, err := buildCore(ctx, cfg)
			if err != nil {
				*code = exitRuntime
				return err
			}
			defer c.close()

			removed, err := artifact.NewCollector(cfg.Retention, c.store, c.db).RunOnce(ctx)
			if err != nil {
				*code = exitRuntime
				return err
			}
			fmt.Printf("removed artifacts for %d item(s)\n", removed)
			return nil
		},
	}
}
