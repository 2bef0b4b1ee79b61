// Package app initializes and holds the long-lived services of a crawl run,
// acting as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog/csvstore"
	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog/postgres"
	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog/sqlitestore"
	"github.com/JakeFAU/tvcatalog-crawler/internal/config"
	"github.com/JakeFAU/tvcatalog-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/tvcatalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/tvcatalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/tvcatalog-crawler/internal/logging"
	"github.com/JakeFAU/tvcatalog-crawler/internal/metrics"
	"github.com/JakeFAU/tvcatalog-crawler/internal/policy/ratelimit"
)

// RunIDGenerator issues one identifier per crawl run.
type RunIDGenerator interface {
	NewRunID() (string, error)
}

// Deps are the collaborators of an App. Store may be nil for commands that
// never touch the catalogs.
type Deps struct {
	Store      catalog.Store
	Fetcher    crawler.Fetcher
	Identifier *crawler.Identifier
	RunIDs     RunIDGenerator
	Engine     crawler.Config
	Logger     *zap.Logger
	Now        func() time.Time
}

// App holds the shared services of the crawler.
type App struct {
	store      catalog.Store
	fetcher    crawler.Fetcher
	identifier *crawler.Identifier
	runIDs     RunIDGenerator
	engineCfg  crawler.Config
	logger     *zap.Logger
	now        func() time.Time
}

// Summary reports what one crawl run did.
type Summary struct {
	RunID    string
	Stats    crawler.Stats
	Rows     map[catalog.ID]int
	Duration time.Duration
}

// NewWithDeps builds an App from explicit collaborators.
func NewWithDeps(d Deps) (*App, error) {
	if d.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if d.Identifier == nil {
		return nil, errors.New("identifier is required")
	}
	if d.RunIDs == nil {
		d.RunIDs = uuid.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &App{
		store:      d.Store,
		fetcher:    d.Fetcher,
		identifier: d.Identifier,
		runIDs:     d.RunIDs,
		engineCfg:  d.Engine,
		logger:     d.Logger,
		now:        d.Now,
	}, nil
}

// New wires an App from configuration. When withStore is false the catalog
// backend is not opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, withStore bool) (*App, error) {
	identifier, err := crawler.NewIdentifier(crawler.DefaultRules(cfg.Crawler.Storefront)...)
	if err != nil {
		return nil, fmt.Errorf("build identifier: %w", err)
	}
	fetcher := collyfetcher.New(FetcherConfig(cfg.HTTP), logger.Named("fetcher"))

	var store catalog.Store
	if withStore {
		store, err = OpenStore(ctx, cfg.Catalog, logger)
		if err != nil {
			return nil, err
		}
	}

	return NewWithDeps(Deps{
		Store:      store,
		Fetcher:    fetcher,
		Identifier: identifier,
		Engine: crawler.Config{
			IndexURL:             cfg.Crawler.IndexURL,
			Concurrency:          cfg.Crawler.Concurrency,
			MaxFetches:           cfg.Crawler.MaxFetches,
			RevalidateUnresolved: cfg.Crawler.RevalidateUnresolved,
		},
		Logger: logger,
	})
}

// FetcherConfig maps the http section onto the fetcher settings. Unset header
// values keep the browser defaults.
func FetcherConfig(c config.HTTPConfig) collyfetcher.Config {
	headers := collyfetcher.DefaultHeaders()
	setHeader(headers, "User-Agent", c.UserAgent)
	setHeader(headers, "Accept", c.Accept)
	setHeader(headers, "Accept-Language", c.AcceptLanguage)
	return collyfetcher.Config{
		Headers:     headers,
		Timeout:     c.Timeout(),
		MaxBodySize: c.MaxBodyBytes,
		MaxAttempts: c.MaxAttempts,
		BackoffBase: c.BackoffInitial(),
		BackoffMax:  c.BackoffMax(),
		Limiter:     ratelimit.New(ratelimit.Config{RPS: c.RequestsPerSecond, Burst: c.Burst}),
	}
}

func setHeader(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

// OpenStore opens the configured catalog backend.
func OpenStore(ctx context.Context, cfg config.CatalogConfig, logger *zap.Logger) (catalog.Store, error) {
	switch cfg.Backend {
	case config.BackendCSV:
		logger.Info("using csv catalogs", zap.String("dir", cfg.Dir))
		store, err := csvstore.New(csvstore.Config{Dir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("open csv catalogs: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		logger.Info("using sqlite catalogs", zap.String("path", cfg.SQLite.Path))
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.SQLite.Path})
		if err != nil {
			return nil, fmt.Errorf("open sqlite catalogs: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		logger.Info("connecting to postgres catalogs", zap.String("table", cfg.Postgres.Table))
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: time.Duration(cfg.Postgres.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres catalogs: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown catalog backend: %s", cfg.Backend)
	}
}

// Crawl runs one full update: load every catalog, crawl the sitemap tree, merge
// and overwrite every catalog. Nothing is written when the crawl fails.
func (a *App) Crawl(ctx context.Context) (Summary, error) {
	if a.store == nil {
		return Summary{}, errors.New("catalog store not configured")
	}
	runID, err := a.runIDs.NewRunID()
	if err != nil {
		return Summary{}, err
	}
	logger := logging.WithRun(a.logger, runID)
	start := a.now()

	tables, err := a.store.Load(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load catalogs: %w", err)
	}
	cache, err := catalog.NewCache(tables)
	if err != nil {
		return Summary{}, fmt.Errorf("build cache: %w", err)
	}
	metrics.SetCacheEntries(cache.Len())
	logger.Info("crawl started", zap.Int("cached", cache.Len()), zap.String("index", a.engineCfg.IndexURL))

	engine := crawler.NewEngine(a.engineCfg, a.fetcher, a.identifier, logger.Named("engine"))
	result, err := engine.Crawl(ctx, cache)
	if err != nil {
		logger.Error("crawl aborted, catalogs left untouched", zap.Error(err))
		return Summary{}, fmt.Errorf("crawl: %w", err)
	}

	merged, err := catalog.Merge(cache, result.Delta)
	if err != nil {
		return Summary{}, fmt.Errorf("merge catalogs: %w", err)
	}
	if err := a.store.Write(ctx, merged); err != nil {
		var partial *catalog.PartialWriteError
		if errors.As(err, &partial) {
			replaced := make([]string, 0, len(partial.Replaced))
			for _, id := range partial.Replaced {
				replaced = append(replaced, string(id))
			}
			logger.Error("catalogs partially replaced",
				zap.String("failed", string(partial.Catalog)),
				zap.Strings("replaced", replaced),
				zap.Error(partial.Err),
			)
		}
		return Summary{}, fmt.Errorf("write catalogs: %w", err)
	}

	summary := Summary{
		RunID:    runID,
		Stats:    result.Stats,
		Rows:     make(map[catalog.ID]int, len(merged)),
		Duration: a.now().Sub(start),
	}
	fields := []zap.Field{
		zap.Duration("duration", summary.Duration),
		zap.Int("seen", summary.Stats.Seen),
		zap.Int("cache_hits", summary.Stats.CacheHits),
		zap.Int("resolved", summary.Stats.Resolved),
		zap.Int("unresolved", summary.Stats.Unresolved),
		zap.Int("fetch_failed", summary.Stats.FetchFailed),
		zap.Int("deferred", summary.Stats.Deferred),
	}
	for _, id := range merged.IDs() {
		n := len(merged[id])
		summary.Rows[id] = n
		metrics.SetCatalogRows(string(id), n)
		fields = append(fields, zap.Int("rows_"+string(id), n))
	}
	logger.Info("crawl finished", fields...)
	return summary, nil
}

// Inspect resolves a single detail-page URL without touching the catalogs.
func (a *App) Inspect(ctx context.Context, itemURL string) (catalog.Record, error) {
	engine := crawler.NewEngine(a.engineCfg, a.fetcher, a.identifier, a.logger.Named("engine"))
	return engine.Inspect(ctx, itemURL)
}

// Close shuts down the catalog store and flushes the logger.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing catalog store", zap.Error(err))
		}
	}
	// Sync fails on stdout/stderr for some platforms; there is nowhere to report it.
	_ = a.logger.Sync()
}
