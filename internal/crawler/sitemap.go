package crawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/tvcatalog-crawler/internal/metrics"
)

// Fetcher retrieves the body of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SitemapWalker flattens a two-level sitemap tree into item URLs.
type SitemapWalker struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewSitemapWalker builds a walker on top of fetcher.
func NewSitemapWalker(fetcher Fetcher, logger *zap.Logger) *SitemapWalker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapWalker{fetcher: fetcher, logger: logger}
}

// Walk fetches the index, then each listed second-level sitemap in order,
// calling yield for every item location. Second-level sitemaps are fetched
// only when the walk reaches them and each is visited once. Any fetch or
// parse failure aborts the walk with a *SitemapFetchError. Returning
// ErrStopWalk from yield ends the walk with a nil error.
func (w *SitemapWalker) Walk(ctx context.Context, indexURL string, yield func(itemURL string) error) error {
	sitemaps, err := w.locations(ctx, indexURL)
	if err != nil {
		return err
	}
	w.logger.Info("sitemap index loaded", zap.String("url", indexURL), zap.Int("sitemaps", len(sitemaps)))

	visited := make(map[string]struct{}, len(sitemaps))
	for _, sitemapURL := range sitemaps {
		if _, ok := visited[sitemapURL]; ok {
			continue
		}
		visited[sitemapURL] = struct{}{}

		items, err := w.locations(ctx, sitemapURL)
		if err != nil {
			return err
		}
		metrics.ObserveSitemap()
		w.logger.Info("walking sitemap",
			zap.String("sitemap", path.Base(sitemapURL)),
			zap.Int("items", len(items)),
		)
		for _, item := range items {
			if err := yield(item); err != nil {
				if errors.Is(err, ErrStopWalk) {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// Items adapts Walk to a single-use iterator. A walk failure is delivered as
// the final pair with an empty URL.
func (w *SitemapWalker) Items(ctx context.Context, indexURL string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		err := w.Walk(ctx, indexURL, func(itemURL string) error {
			if !yield(itemURL, nil) {
				return ErrStopWalk
			}
			return nil
		})
		if err != nil {
			yield("", err)
		}
	}
}

func (w *SitemapWalker) locations(ctx context.Context, docURL string) ([]string, error) {
	body, err := w.fetcher.Fetch(ctx, docURL)
	if err != nil {
		return nil, &SitemapFetchError{URL: docURL, Err: err}
	}
	body, err = maybeGunzip(body)
	if err != nil {
		return nil, &SitemapFetchError{URL: docURL, Err: err}
	}
	locs, err := parseLocations(body)
	if err != nil {
		return nil, &SitemapFetchError{URL: docURL, Err: err}
	}
	return locs, nil
}

// maybeGunzip decompresses gzip payloads. Bodies the transport already
// decoded are returned unchanged.
func maybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close() //nolint:errcheck // in-memory reader
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// parseLocations returns the text of every <loc> element, namespace-agnostic.
func parseLocations(data []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, "//*[local-name()='loc']")
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	locs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs, nil
}
