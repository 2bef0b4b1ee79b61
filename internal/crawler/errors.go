package crawler

import (
	"errors"
	"fmt"
)

// ErrStopWalk may be returned by a walk callback to end the walk early
// without error.
var ErrStopWalk = errors.New("stop walk")

// SitemapFetchError is fatal: a sitemap document could not be retrieved or
// parsed, so continuing would silently under-crawl.
type SitemapFetchError struct {
	URL string
	Err error
}

func (e *SitemapFetchError) Error() string {
	return fmt.Sprintf("sitemap %s: %v", e.URL, e.Err)
}

func (e *SitemapFetchError) Unwrap() error {
	return e.Err
}

// ItemFetchError means one detail page could not be retrieved. The item is
// skipped for this run.
type ItemFetchError struct {
	URL string
	ID  string
	Err error
}

func (e *ItemFetchError) Error() string {
	return fmt.Sprintf("item %s (%s): %v", e.ID, e.URL, e.Err)
}

func (e *ItemFetchError) Unwrap() error {
	return e.Err
}

// ExtractionError means a page carried no recognized structured-data block.
type ExtractionError struct {
	URL    string
	Blocks int
}

func (e *ExtractionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("no recognized structured data among %d blocks", e.Blocks)
	}
	return fmt.Sprintf("%s: no recognized structured data among %d blocks", e.URL, e.Blocks)
}
