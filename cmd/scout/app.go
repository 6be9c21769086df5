package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/zulandar/jobscout/internal/batch"
	"github.com/zulandar/jobscout/internal/broker"
	"github.com/zulandar/jobscout/internal/cache"
	"github.com/zulandar/jobscout/internal/config"
	"github.com/zulandar/jobscout/internal/db"
	"github.com/zulandar/jobscout/internal/document"
	"github.com/zulandar/jobscout/internal/engine"
	"github.com/zulandar/jobscout/internal/llm"
	"github.com/zulandar/jobscout/internal/notify"
	"github.com/zulandar/jobscout/internal/profile"
	"github.com/zulandar/jobscout/internal/search"
	"github.com/zulandar/jobscout/internal/session"
	"github.com/zulandar/jobscout/internal/worker"
	"gorm.io/gorm"
)

// Search providers trip after this many consecutive failures.
const (
	guardFailures = 3
	guardCooldown = 5 * time.Minute
)

// app is the fully wired service graph for one config.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	store    *session.Store
	broker   *broker.Broker
	profiles *profile.Store
	engine   *engine.Engine
	runner   *batch.Runner // nil when no search provider is configured
}

// loadConfig reads configPath. A missing file at the default path falls
// back to the development defaults.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if configPath == config.DefaultPath && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// connectFromConfig loads the config and opens the database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newApp wires every component from configPath.
func newApp(configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return wire(cfg, gormDB, nil)
}

// wire builds the service graph. A non-nil completer replaces the
// configured provider.
func wire(cfg *config.Config, gormDB *gorm.DB, completer llm.Completer) (*app, error) {
	a := &app{cfg: cfg, db: gormDB}
	var err error

	a.store, err = session.NewStore(session.StoreOpts{
		DB:                 gormDB,
		MaxTurnsPerSession: cfg.Engine.MaxTurnsPerSession,
		LockTimeout:        time.Duration(cfg.Engine.LockTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	a.broker, err = broker.New(broker.Opts{
		DB:          gormDB,
		ApprovalTTL: time.Duration(cfg.Engine.ApprovalTTLSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	a.profiles, err = profile.NewStore(gormDB)
	if err != nil {
		return nil, err
	}

	if completer == nil {
		completer, err = newCompleter(cfg.LLM)
		if err != nil {
			return nil, err
		}
	}

	workers := []worker.Worker{
		worker.NewProfileWorker(completer, cfg.Engine.DocumentChars),
		worker.NewChat(completer),
	}

	timeout := cfg.Search.Timeout()
	var scraper search.Fetcher
	if cfg.Search.FirecrawlKey != "" {
		scraper = search.NewFirecrawl(cfg.Search.FirecrawlKey, "", timeout)
	}
	detail, err := worker.NewDetail(scraper, search.NewDirect(timeout), completer)
	if err != nil {
		return nil, err
	}
	workers = append(workers, detail)

	primary, secondary := searchers(cfg.Search)
	var qm *worker.QuickMatch
	if primary != nil {
		qm, err = worker.NewQuickMatch(worker.QuickMatchOpts{
			Primary:     primary,
			Secondary:   secondary,
			LLM:         completer,
			MaxResults:  cfg.Engine.MaxResults,
			MaxPerQuery: cfg.Search.MaxPerQuery,
		})
		if err != nil {
			return nil, err
		}
		workers = append(workers, qm)
	} else {
		log.Printf("scout: no search provider configured; job search is disabled")
	}

	a.engine, err = engine.New(engine.Opts{
		Store:     a.store,
		Broker:    a.broker,
		Profiles:  a.profiles,
		Workers:   workers,
		Extractor: document.PDF{MaxBytes: cfg.Server.MaxUploadBytes},
		Cache: cache.New(cache.Options[*engine.ExecutionContext]{
			Capacity: cfg.Cache.Capacity,
			TTL:      cfg.Cache.TTL(),
			Shards:   cfg.Cache.Shards,
		}),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return nil, err
	}

	if qm != nil {
		notifier, err := notify.FromConfig(cfg.Notify)
		if err != nil {
			return nil, err
		}
		a.runner, err = batch.NewRunner(batch.RunnerOpts{
			DB:          gormDB,
			Profiles:    a.profiles,
			Search:      qm,
			Notifier:    notifier,
			Concurrency: cfg.Batch.Concurrency,
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// newCompleter returns the configured completion provider.
func newCompleter(cfg config.LLMConfig) (llm.Completer, error) {
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAI(llm.OpenAIOpts{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		})
	case "mock", "":
		return llm.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// searchers returns the primary and fallback search providers. Tavily is
// preferred as primary when both are configured.
func searchers(cfg config.SearchConfig) (primary, secondary search.Searcher) {
	var list []search.Searcher
	if cfg.TavilyKey != "" {
		list = append(list, search.WithGuard(search.NewTavily(cfg.TavilyKey, "", cfg.Timeout()), search.NewGuard(guardFailures, guardCooldown)))
	}
	if cfg.BraveKey != "" {
		list = append(list, search.WithGuard(search.NewBrave(cfg.BraveKey, "", cfg.Timeout()), search.NewGuard(guardFailures, guardCooldown)))
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	default:
		return list[0], list[1]
	}
}

// requireRunner reports a helpful error when batch search is unavailable.
func (a *app) requireRunner() (*batch.Runner, error) {
	if a.runner == nil {
		return nil, fmt.Errorf("batch search needs search.tavily_key or search.brave_key in the config")
	}
	return a.runner, nil
}
