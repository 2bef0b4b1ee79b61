package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
)

const (
	filmURL   = "https://tv.apple.com/us/movie/some-title/umc.cmc.ABC123"
	showURL   = "https://tv.apple.com/us/show/some-show/umc.cmc.show1"
	brokenURL = "https://tv.apple.com/us/movie/broken/umc.cmc.broken"
	subURL    = "https://tv.apple.com/sitemaps_tv_1.xml.gz"
)

func newTestEngine(t *testing.T, f Fetcher, cfg Config) *Engine {
	t.Helper()
	cfg.IndexURL = testIndex
	return NewEngine(cfg, f, defaultIdentifier(t), zap.NewNop())
}

func catalogFetcher(t *testing.T, items ...string) *stubFetcher {
	t.Helper()
	f := newStubFetcher()
	f.set(testIndex, sitemapIndex(subURL))
	f.set(subURL, gz(t, urlset(items...)))
	return f
}

func emptyCache(t *testing.T) *catalog.Cache {
	t.Helper()
	c, err := catalog.NewCache(catalog.Tables{})
	require.NoError(t, err)
	return c
}

func TestCrawlResolvesFilm(t *testing.T) {
	t.Parallel()

	f := catalogFetcher(t, filmURL)
	f.set(filmURL, page(`{"@type":"Movie","name":"Some Title","datePublished":"2001-05-01","director":[{"name":"A. Director"}]}`))

	res, err := newTestEngine(t, f, Config{}).Crawl(context.Background(), emptyCache(t))
	require.NoError(t, err)
	require.Empty(t, res.Delta.Kept)
	require.Equal(t, []catalog.Record{{
		Catalog: catalog.Film,
		Entry: catalog.Entry{
			ID:             "umc.cmc.ABC123",
			Name:           "Some Title",
			Description:    "2001 film directed by A. Director",
			URL:            filmURL,
			Classification: catalog.ClassFilm,
		},
	}}, res.Delta.Discovered)
	require.Equal(t, 1, res.Stats.Resolved)
}

func TestCrawlOutcomes(t *testing.T) {
	t.Parallel()

	failing := "https://tv.apple.com/us/movie/gone/umc.cmc.gone"
	f := catalogFetcher(t,
		"https://tv.apple.com/us/room/edt.item.1",
		showURL,
		brokenURL,
		failing,
		"https://tv.apple.com/us/movie/cached/umc.cmc.cached",
		"https://tv.apple.com/us/movie/other-slug/umc.cmc.show1",
	)
	f.set(showURL, page(`{"@type":"TVSeries","name":"Some Show"}`))
	f.set(brokenURL, page(`{"@type":"WebSite","name":"Apple TV"}`))
	f.errs[failing] = errors.New("exhausted retries")

	cache, err := catalog.NewCache(catalog.Tables{
		catalog.Film: {{ID: "umc.cmc.cached", Name: "C", Description: "film", URL: "u", Classification: catalog.ClassFilm}},
	})
	require.NoError(t, err)

	res, err := newTestEngine(t, f, Config{Concurrency: 3}).Crawl(context.Background(), cache)
	require.NoError(t, err)

	require.Equal(t, []string{"umc.cmc.cached"}, res.Delta.Kept)
	require.Zero(t, f.count("https://tv.apple.com/us/movie/cached/umc.cmc.cached"))

	byID := map[string]catalog.Record{}
	for _, r := range res.Delta.Discovered {
		byID[r.Entry.ID] = r
	}
	require.Len(t, byID, 2)
	require.Equal(t, catalog.Series, byID["umc.cmc.show1"].Catalog)
	require.Equal(t, "television series", byID["umc.cmc.show1"].Entry.Description)
	require.Equal(t, catalog.Record{Catalog: catalog.Unresolved, Entry: catalog.Placeholder("umc.cmc.broken", brokenURL)}, byID["umc.cmc.broken"])
	_, emitted := byID["umc.cmc.gone"]
	require.False(t, emitted)

	require.Equal(t, Stats{
		Seen:        6,
		NotDetail:   1,
		Duplicates:  1,
		CacheHits:   1,
		FetchFailed: 1,
		Unresolved:  1,
		Resolved:    1,
	}, res.Stats)
}

func TestCrawlSitemapFailureAborts(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.set(testIndex, sitemapIndex(subURL))

	_, err := newTestEngine(t, f, Config{}).Crawl(context.Background(), emptyCache(t))
	var sitemapErr *SitemapFetchError
	require.ErrorAs(t, err, &sitemapErr)
}

func TestCrawlRevalidateUnresolved(t *testing.T) {
	t.Parallel()

	f := catalogFetcher(t, brokenURL)
	f.set(brokenURL, page(`{"@type":"Movie","name":"Fixed"}`))
	cache, err := catalog.NewCache(catalog.Tables{
		catalog.Unresolved: {catalog.Placeholder("umc.cmc.broken", brokenURL)},
	})
	require.NoError(t, err)

	res, err := newTestEngine(t, f, Config{}).Crawl(context.Background(), cache)
	require.NoError(t, err)
	require.Equal(t, []string{"umc.cmc.broken"}, res.Delta.Kept)
	require.Zero(t, f.count(brokenURL))

	res, err = newTestEngine(t, f, Config{RevalidateUnresolved: true}).Crawl(context.Background(), cache)
	require.NoError(t, err)
	require.Empty(t, res.Delta.Kept)
	require.Len(t, res.Delta.Discovered, 1)
	require.Equal(t, catalog.Film, res.Delta.Discovered[0].Catalog)
	require.Equal(t, "Fixed", res.Delta.Discovered[0].Entry.Name)
}

func TestCrawlRevalidateKeepsPlaceholderWhenNotRefetched(t *testing.T) {
	t.Parallel()

	newURL := "https://tv.apple.com/us/movie/new/umc.cmc.new1"
	placeholders := func(t *testing.T) *catalog.Cache {
		t.Helper()
		cache, err := catalog.NewCache(catalog.Tables{
			catalog.Unresolved: {catalog.Placeholder("umc.cmc.broken", brokenURL)},
		})
		require.NoError(t, err)
		return cache
	}

	t.Run("budget spent", func(t *testing.T) {
		t.Parallel()
		f := catalogFetcher(t, newURL, brokenURL)
		f.set(newURL, page(`{"@type":"Movie","name":"New"}`))
		cache := placeholders(t)

		res, err := newTestEngine(t, f, Config{RevalidateUnresolved: true, MaxFetches: 1}).Crawl(context.Background(), cache)
		require.NoError(t, err)
		require.Zero(t, f.count(brokenURL))
		require.Equal(t, []string{"umc.cmc.broken"}, res.Delta.Kept)
		require.Equal(t, 1, res.Stats.Deferred)

		merged, err := catalog.Merge(cache, res.Delta)
		require.NoError(t, err)
		require.Equal(t, []catalog.Entry{catalog.Placeholder("umc.cmc.broken", brokenURL)}, merged[catalog.Unresolved])
		require.Len(t, merged[catalog.Film], 1)
	})

	t.Run("fetch failed", func(t *testing.T) {
		t.Parallel()
		f := catalogFetcher(t, brokenURL)
		f.errs[brokenURL] = errors.New("exhausted retries")
		cache := placeholders(t)

		res, err := newTestEngine(t, f, Config{RevalidateUnresolved: true}).Crawl(context.Background(), cache)
		require.NoError(t, err)
		require.Equal(t, 1, f.count(brokenURL))
		require.Equal(t, []string{"umc.cmc.broken"}, res.Delta.Kept)
		require.Empty(t, res.Delta.Discovered)
		require.Equal(t, 1, res.Stats.FetchFailed)

		merged, err := catalog.Merge(cache, res.Delta)
		require.NoError(t, err)
		require.Equal(t, []catalog.Entry{catalog.Placeholder("umc.cmc.broken", brokenURL)}, merged[catalog.Unresolved])
	})
}

func TestCrawlMaxFetchesDefersRemainder(t *testing.T) {
	t.Parallel()

	var items []string
	f := newStubFetcher()
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("https://tv.apple.com/us/movie/m/umc.cmc.m%d", i)
		items = append(items, u)
		f.set(u, page(fmt.Sprintf(`{"@type":"Movie","name":"M%d"}`, i)))
	}
	f.set(testIndex, sitemapIndex(subURL))
	f.set(subURL, gz(t, urlset(items...)))

	res, err := newTestEngine(t, f, Config{MaxFetches: 2}).Crawl(context.Background(), emptyCache(t))
	require.NoError(t, err)
	require.Len(t, res.Delta.Discovered, 2)
	require.Equal(t, 3, res.Stats.Deferred)
}

func TestCrawlCanceled(t *testing.T) {
	t.Parallel()

	f := catalogFetcher(t, filmURL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(t, f, Config{}).Crawl(ctx, emptyCache(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.set(showURL, page(`{"@type":"TVSeries","name":"Some Show"}`))
	f.set(brokenURL, page())
	e := newTestEngine(t, f, Config{})

	rec, err := e.Inspect(context.Background(), showURL)
	require.NoError(t, err)
	require.Equal(t, catalog.Series, rec.Catalog)

	rec, err = e.Inspect(context.Background(), brokenURL)
	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, brokenURL, extractErr.URL)
	require.Equal(t, catalog.Unresolved, rec.Catalog)

	_, err = e.Inspect(context.Background(), "https://tv.apple.com/us/room/x")
	require.Error(t, err)
}
