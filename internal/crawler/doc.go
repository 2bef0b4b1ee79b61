// Package crawler implements the incremental crawl engine: sitemap tree
// traversal, item identification from detail-page URLs, structured-data
// extraction, and the orchestration that consults the record cache before
// fetching anything.
package crawler
