package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
	"github.com/JakeFAU/tvcatalog-crawler/internal/metrics"
)

// Item outcomes, used for stats and metrics labels.
const (
	OutcomeNotDetail   = "not_detail"
	OutcomeDuplicate   = "duplicate"
	OutcomeCacheHit    = "cache_hit"
	OutcomeDeferred    = "deferred"
	OutcomeFetchFailed = "fetch_failed"
	OutcomeUnresolved  = "unresolved"
	OutcomeResolved    = "resolved"
)

// Config holds the settings for a crawl run.
type Config struct {
	IndexURL    string
	Concurrency int
	// MaxFetches bounds the detail pages fetched per run; zero is unlimited.
	// Items beyond the budget are left for a later run.
	MaxFetches int
	// RevalidateUnresolved treats cached unresolved placeholders as misses.
	RevalidateUnresolved bool
}

// Stats counts item outcomes for one run.
type Stats struct {
	Seen        int
	NotDetail   int
	Duplicates  int
	CacheHits   int
	Deferred    int
	FetchFailed int
	Unresolved  int
	Resolved    int
}

type counters struct {
	seen, notDetail, duplicates, cacheHits, deferred atomic.Int64
	fetchFailed, unresolved, resolved                atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Seen:        int(c.seen.Load()),
		NotDetail:   int(c.notDetail.Load()),
		Duplicates:  int(c.duplicates.Load()),
		CacheHits:   int(c.cacheHits.Load()),
		Deferred:    int(c.deferred.Load()),
		FetchFailed: int(c.fetchFailed.Load()),
		Unresolved:  int(c.unresolved.Load()),
		Resolved:    int(c.resolved.Load()),
	}
}

// Result is the outcome of a completed crawl.
type Result struct {
	Delta catalog.Delta
	Stats Stats
}

// Engine orchestrates walk, identification, cache lookup, fetch and extraction.
type Engine struct {
	cfg        Config
	walker     *SitemapWalker
	identifier *Identifier
	fetcher    Fetcher
	logger     *zap.Logger
}

// NewEngine wires an Engine.
func NewEngine(cfg Config, fetcher Fetcher, identifier *Identifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Engine{
		cfg:        cfg,
		walker:     NewSitemapWalker(fetcher, logger.Named("sitemap")),
		identifier: identifier,
		fetcher:    fetcher,
		logger:     logger,
	}
}

// Crawl walks the sitemap tree and returns what the run learned relative to
// cache. The cache is only read. Cache hits never reach the worker pool. A
// sitemap failure aborts the crawl; per-item failures do not.
func (e *Engine) Crawl(ctx context.Context, cache *catalog.Cache) (Result, error) {
	var (
		buf     catalog.Buffer
		stats   counters
		handled = make(map[string]struct{})
		fetches int
		walkErr error
		pool    errgroup.Group
	)
	pool.SetLimit(e.cfg.Concurrency)

	for itemURL, err := range e.walker.Items(ctx, e.cfg.IndexURL) {
		if err != nil {
			walkErr = err
			break
		}
		stats.seen.Add(1)

		ident, ok := e.identifier.Identify(itemURL)
		if !ok {
			stats.notDetail.Add(1)
			metrics.ObserveItem(OutcomeNotDetail)
			continue
		}
		if _, dup := handled[ident.ID]; dup {
			stats.duplicates.Add(1)
			metrics.ObserveItem(OutcomeDuplicate)
			continue
		}
		handled[ident.ID] = struct{}{}

		rec, cached := cache.Lookup(ident.ID)
		if cached && !(e.cfg.RevalidateUnresolved && rec.Catalog == catalog.Unresolved) {
			buf.Keep(ident.ID)
			stats.cacheHits.Add(1)
			metrics.ObserveItem(OutcomeCacheHit)
			continue
		}

		if e.cfg.MaxFetches > 0 && fetches >= e.cfg.MaxFetches {
			// A placeholder waiting for revalidation stays in place.
			if cached {
				buf.Keep(ident.ID)
			}
			stats.deferred.Add(1)
			metrics.ObserveItem(OutcomeDeferred)
			continue
		}
		fetches++

		pool.Go(func() error {
			e.process(ctx, ident, itemURL, cached, &buf, &stats)
			return nil
		})
	}
	_ = pool.Wait() // workers never fail the group

	if walkErr != nil {
		return Result{}, walkErr
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("crawl canceled: %w", err)
	}
	return Result{Delta: buf.Delta(), Stats: stats.snapshot()}, nil
}

// process resolves one item into buf. cached marks a placeholder being
// revalidated; it is kept when the page cannot be fetched.
func (e *Engine) process(ctx context.Context, ident Identity, itemURL string, cached bool, buf *catalog.Buffer, stats *counters) {
	rec, err := e.resolve(ctx, ident, itemURL)
	var fetchErr *ItemFetchError
	var extractErr *ExtractionError
	switch {
	case err == nil:
		buf.Discover(rec)
		stats.resolved.Add(1)
		metrics.ObserveItem(OutcomeResolved)
		e.logger.Debug("item resolved",
			zap.String("id", ident.ID),
			zap.String("catalog", string(rec.Catalog)),
		)
	case errors.As(err, &extractErr):
		buf.Discover(catalog.Record{Catalog: catalog.Unresolved, Entry: catalog.Placeholder(ident.ID, itemURL)})
		stats.unresolved.Add(1)
		metrics.ObserveItem(OutcomeUnresolved)
		e.logger.Info("item unresolved", zap.String("id", ident.ID), zap.Error(err))
	case errors.As(err, &fetchErr):
		if ctx.Err() != nil {
			return
		}
		if cached {
			buf.Keep(ident.ID)
		}
		stats.fetchFailed.Add(1)
		metrics.ObserveItem(OutcomeFetchFailed)
		e.logger.Warn("item skipped", zap.String("id", ident.ID), zap.Error(err))
	default:
		// Pages that cannot even be parsed as HTML carry no structured data.
		buf.Discover(catalog.Record{Catalog: catalog.Unresolved, Entry: catalog.Placeholder(ident.ID, itemURL)})
		stats.unresolved.Add(1)
		metrics.ObserveItem(OutcomeUnresolved)
		e.logger.Info("item unresolved", zap.String("id", ident.ID), zap.Error(err))
	}
}

// resolve fetches and extracts one item. It returns *ItemFetchError when the
// page could not be retrieved and *ExtractionError when it had no recognized
// structured data.
func (e *Engine) resolve(ctx context.Context, ident Identity, itemURL string) (catalog.Record, error) {
	body, err := e.fetcher.Fetch(ctx, itemURL)
	if err != nil {
		return catalog.Record{}, &ItemFetchError{URL: itemURL, ID: ident.ID, Err: err}
	}
	details, err := Extract(body, ident.Hint)
	if err != nil {
		var extractErr *ExtractionError
		if errors.As(err, &extractErr) {
			extractErr.URL = itemURL
		}
		return catalog.Record{}, err
	}
	target, err := catalog.ForClassification(details.Classification)
	if err != nil {
		return catalog.Record{}, err
	}
	return catalog.Record{
		Catalog: target,
		Entry: catalog.Entry{
			ID:             ident.ID,
			Name:           details.Name,
			Description:    details.Description,
			URL:            itemURL,
			Classification: details.Classification,
		},
	}, nil
}

// Inspect resolves a single detail-page URL without consulting any cache.
func (e *Engine) Inspect(ctx context.Context, itemURL string) (catalog.Record, error) {
	ident, ok := e.identifier.Identify(itemURL)
	if !ok {
		return catalog.Record{}, fmt.Errorf("%s is not a detail-page URL", itemURL)
	}
	rec, err := e.resolve(ctx, ident, itemURL)
	var extractErr *ExtractionError
	if errors.As(err, &extractErr) {
		return catalog.Record{Catalog: catalog.Unresolved, Entry: catalog.Placeholder(ident.ID, itemURL)}, err
	}
	return rec, err
}
