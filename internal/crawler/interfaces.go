package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a URL and classifies the response.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchResult
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// BlobRemover is implemented by stores that can drop partially written objects.
type BlobRemover interface {
	RemoveObject(ctx context.Context, path string) error
}

// Catalog indexes archived documents (for example in Postgres).
type Catalog interface {
	RecordDocument(ctx context.Context, record DocumentRecord, location string) error
}

// Publisher announces archived documents to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Progress receives statistics snapshots while a crawl runs.
type Progress interface {
	Update(snapshot StatsSnapshot)
	Finish(snapshot StatsSnapshot)
}

// RunLog records when crawl runs start and how they end.
type RunLog interface {
	StartRun(ctx context.Context, runID, seedURL string, startedAt time.Time) error
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status RunStatus, snapshot StatsSnapshot) error
}
