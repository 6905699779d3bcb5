// Package crawler implements the breadth-first PDF crawl, including the
// frontier, fetcher, link extraction, archiver and the engine that drives
// them for a single target domain.
package crawler
