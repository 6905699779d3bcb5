package crawler

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Sentinel errors surfaced by crawl components.
var (
	// ErrUnexpectedStatus marks a non-2xx HTTP response.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrArchiveWrite marks a storage failure while archiving a document.
	ErrArchiveWrite = errors.New("archive write failed")
	// ErrStalledBody marks a response body that sent no data for a full
	// request timeout.
	ErrStalledBody = errors.New("response body stalled")
)

// FetchResult is the closed set of outcomes produced by a Fetcher.
// Implementations are HTMLPage, PDFResource, OtherContent and FetchFailure.
type FetchResult interface {
	fetchResult()
}

// HTMLPage is a fully materialized HTML response.
type HTMLPage struct {
	URL      string
	FinalURL string
	Body     []byte
}

// PDFResource is a PDF response whose body has not been read yet.
// The receiver owns Body and must close it.
type PDFResource struct {
	URL            string
	Body           io.ReadCloser
	DeclaredLength int64
}

// OtherContent is a response of a media type the crawler does not handle.
type OtherContent struct {
	URL         string
	ContentType string
}

// FetchFailure is returned once every attempt for a URL has failed.
type FetchFailure struct {
	URL      string
	Attempts int
	Err      error
}

func (HTMLPage) fetchResult()     {}
func (PDFResource) fetchResult()  {}
func (OtherContent) fetchResult() {}
func (FetchFailure) fetchResult() {}

// Error implements error so failures can be logged and wrapped directly.
func (f FetchFailure) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", f.URL, f.Attempts, f.Err)
}

// Unwrap exposes the last attempt's error.
func (f FetchFailure) Unwrap() error {
	return f.Err
}

// DocumentRecord is the sidecar persisted next to every archived PDF.
type DocumentRecord struct {
	SourceAuthority string  `json:"source_authority"`
	Tier            string  `json:"tier"`
	DownloadURL     string  `json:"download_url"`
	FileName        string  `json:"file_name"`
	CrawlDate       string  `json:"crawl_date"`
	FileSizeKB      float64 `json:"file_size_kb"`
}

// OutcomeKind classifies what the archiver did with a PDF.
type OutcomeKind string

// Archive outcome values.
const (
	OutcomeArchived OutcomeKind = "archived"
	OutcomeTooSmall OutcomeKind = "too_small"
)

// Outcome reports a completed Archive call.
type Outcome struct {
	Kind     OutcomeKind
	Record   DocumentRecord
	Location string
	Bytes    int64
}

// RunStatus is the terminal state of a crawl run.
type RunStatus string

// Run status values.
const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}
