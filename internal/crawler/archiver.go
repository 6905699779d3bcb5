package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	pdfSuffix        = ".pdf"
	sidecarSuffix    = ".json"
	maxFileNameBytes = 200
)

// Archiver persists PDF responses and their metadata sidecars.
type Archiver struct {
	store     BlobStore
	catalog   Catalog
	publisher Publisher
	clock     Clock
	logger    *zap.Logger

	minBytes  int64
	chunkSize int
	authority string
	tier      string

	mu    sync.Mutex
	names map[string]string
}

// ArchiverOption customizes an Archiver.
type ArchiverOption func(*Archiver)

// WithCatalog indexes every archived document in c.
func WithCatalog(c Catalog) ArchiverOption {
	return func(a *Archiver) {
		a.catalog = c
	}
}

// WithPublisher announces every archived document through p.
func WithPublisher(p Publisher) ArchiverOption {
	return func(a *Archiver) {
		a.publisher = p
	}
}

// WithClock overrides the time source used for crawl dates and synthesized names.
func WithClock(c Clock) ArchiverOption {
	return func(a *Archiver) {
		a.clock = c
	}
}

// NewArchiver builds an archiver writing into store.
func NewArchiver(cfg Config, store BlobStore, logger *zap.Logger, opts ...ArchiverOption) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archiver{
		store:     store,
		clock:     systemClock{},
		logger:    logger,
		minBytes:  cfg.MinPDFBytes,
		chunkSize: cfg.ChunkSize,
		authority: cfg.SourceAuthority,
		tier:      cfg.Tier,
		names:     make(map[string]string),
	}
	if a.chunkSize <= 0 {
		a.chunkSize = 8192
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive stores a PDF body under a name derived from rawURL and writes the
// sidecar record next to it. PDFs declaring fewer than the minimum bytes are
// skipped with OutcomeTooSmall. Storage failures wrap ErrArchiveWrite.
func (a *Archiver) Archive(ctx context.Context, rawURL string, body io.Reader, declaredLength int64) (Outcome, error) {
	if declaredLength < a.minBytes {
		a.logger.Info("Skipping small PDF",
			zap.String("url", rawURL),
			zap.Int64("declared_bytes", declaredLength),
			zap.Int64("min_bytes", a.minBytes),
		)
		return Outcome{Kind: OutcomeTooSmall}, nil
	}

	now := a.clock.Now()
	name := DeriveFileName(rawURL, now)
	a.flagCollision(name, rawURL)

	src := &chunkReader{r: body, size: a.chunkSize}
	location, err := a.store.PutObject(ctx, name, "application/pdf", src)
	if err != nil {
		a.remove(ctx, name)
		return Outcome{}, fmt.Errorf("%w: write %s: %w", ErrArchiveWrite, name, err)
	}

	record := DocumentRecord{
		SourceAuthority: a.authority,
		Tier:            a.tier,
		DownloadURL:     rawURL,
		FileName:        name,
		CrawlDate:       now.Format(time.DateOnly),
		FileSizeKB:      math.Round(float64(declaredLength)/1024*100) / 100,
	}
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		a.remove(ctx, name)
		return Outcome{}, fmt.Errorf("%w: marshal metadata: %w", ErrArchiveWrite, err)
	}
	if _, err := a.store.PutObject(ctx, name+sidecarSuffix, "application/json", bytes.NewReader(payload)); err != nil {
		a.remove(ctx, name)
		a.remove(ctx, name+sidecarSuffix)
		return Outcome{}, fmt.Errorf("%w: write metadata for %s: %w", ErrArchiveWrite, name, err)
	}

	a.index(ctx, record, location)
	a.logger.Info("Downloaded PDF",
		zap.String("file", name),
		zap.Float64("size_kb", record.FileSizeKB),
		zap.String("location", location),
	)
	return Outcome{
		Kind:     OutcomeArchived,
		Record:   record,
		Location: location,
		Bytes:    src.n,
	}, nil
}

func (a *Archiver) index(ctx context.Context, record DocumentRecord, location string) {
	if a.catalog != nil {
		if err := a.catalog.RecordDocument(ctx, record, location); err != nil {
			a.logger.Warn("Failed to catalog document", zap.String("file", record.FileName), zap.Error(err))
		}
	}
	if a.publisher != nil {
		if _, err := a.publisher.Publish(ctx, record); err != nil {
			a.logger.Warn("Failed to publish archive notification", zap.String("file", record.FileName), zap.Error(err))
		}
	}
}

// flagCollision warns when two different URLs map to the same file name. The
// later download still overwrites the earlier one.
func (a *Archiver) flagCollision(name, rawURL string) {
	a.mu.Lock()
	prev, ok := a.names[name]
	a.names[name] = rawURL
	a.mu.Unlock()
	if ok && prev != rawURL {
		a.logger.Warn("File name collision, overwriting",
			zap.String("file", name),
			zap.String("previous_url", prev),
			zap.String("url", rawURL),
		)
	}
}

func (a *Archiver) remove(ctx context.Context, name string) {
	remover, ok := a.store.(BlobRemover)
	if !ok {
		return
	}
	if err := remover.RemoveObject(ctx, name); err != nil {
		a.logger.Debug("Failed to remove partial object", zap.String("file", name), zap.Error(err))
	}
}

// DeriveFileName turns the final path segment of rawURL into a safe PDF file
// name, synthesizing one from now when the URL has none.
func DeriveFileName(rawURL string, now time.Time) string {
	name := SanitizeFileName(lastPathSegment(rawURL))
	if !strings.HasSuffix(strings.ToLower(name), pdfSuffix) {
		name += pdfSuffix
	}
	if strings.EqualFold(name, pdfSuffix) {
		return synthesizedName(now)
	}
	return truncateName(name)
}

// SanitizeFileName keeps letters, digits, spaces, dots, underscores and
// hyphens, then strips leading dots and spaces so the result can never
// address a parent or hidden path.
func SanitizeFileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), ". ")
}

func lastPathSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

func synthesizedName(now time.Time) string {
	return fmt.Sprintf("document_%d%s", now.Unix(), pdfSuffix)
}

func truncateName(name string) string {
	if len(name) <= maxFileNameBytes {
		return name
	}
	stem := name[:len(name)-len(pdfSuffix)]
	limit := maxFileNameBytes - len(pdfSuffix)
	for len(stem) > limit {
		_, size := utf8.DecodeLastRuneInString(stem)
		stem = stem[:len(stem)-size]
	}
	return stem + name[len(name)-len(pdfSuffix):]
}

// chunkReader caps every Read at size bytes so the sink receives the body in
// fixed pieces, and counts what passed through.
type chunkReader struct {
	r    io.Reader
	size int
	n    int64
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
