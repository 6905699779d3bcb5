package crawler

import "sync/atomic"

// Stats holds the running counters of a crawl. Safe for concurrent use.
type Stats struct {
	urlsVisited    atomic.Int64
	pagesVisited   atomic.Int64
	pdfsDownloaded atomic.Int64
	pdfsSkipped    atomic.Int64
	skippedOther   atomic.Int64
	fetchFailures  atomic.Int64
	archiveErrors  atomic.Int64
	totalBytes     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	URLsVisited    int64 `json:"urls_visited"`
	PagesVisited   int64 `json:"pages_visited"`
	PDFsDownloaded int64 `json:"pdfs_downloaded"`
	PDFsSkipped    int64 `json:"pdfs_skipped"`
	SkippedOther   int64 `json:"skipped_other"`
	FetchFailures  int64 `json:"fetch_failures"`
	ArchiveErrors  int64 `json:"archive_errors"`
	TotalBytes     int64 `json:"total_bytes"`
	Queued         int   `json:"queued"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		URLsVisited:    s.urlsVisited.Load(),
		PagesVisited:   s.pagesVisited.Load(),
		PDFsDownloaded: s.pdfsDownloaded.Load(),
		PDFsSkipped:    s.pdfsSkipped.Load(),
		SkippedOther:   s.skippedOther.Load(),
		FetchFailures:  s.fetchFailures.Load(),
		ArchiveErrors:  s.archiveErrors.Load(),
		TotalBytes:     s.totalBytes.Load(),
	}
}

func (s *Stats) recordVisit() {
	s.urlsVisited.Add(1)
}

func (s *Stats) recordPage() {
	s.pagesVisited.Add(1)
	TotalPagesVisited.Inc()
}

func (s *Stats) recordArchived(bytes int64) {
	s.pdfsDownloaded.Add(1)
	s.totalBytes.Add(bytes)
	TotalDocuments.WithLabelValues(string(OutcomeArchived)).Inc()
	TotalArchivedBytes.Add(float64(bytes))
}

func (s *Stats) recordTooSmall() {
	s.pdfsSkipped.Add(1)
	TotalDocuments.WithLabelValues(string(OutcomeTooSmall)).Inc()
}

func (s *Stats) recordArchiveError() {
	s.archiveErrors.Add(1)
	TotalDocuments.WithLabelValues("error").Inc()
}

func (s *Stats) recordOther() {
	s.skippedOther.Add(1)
}

func (s *Stats) recordFailure() {
	s.fetchFailures.Add(1)
}
