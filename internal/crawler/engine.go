package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultReportInterval = 500 * time.Millisecond

// DocumentArchiver persists PDF bodies.
type DocumentArchiver interface {
	Archive(ctx context.Context, rawURL string, body io.Reader, declaredLength int64) (Outcome, error)
}

// Engine runs the breadth-first crawl with a bounded pool of workers sharing
// one Frontier.
type Engine struct {
	cfg      Config
	frontier *Frontier
	fetcher  Fetcher
	archiver DocumentArchiver
	gate     *politeGate
	stats    *Stats
	progress Progress
	runLog   RunLog
	runID    string
	clock    Clock
	logger   *zap.Logger

	reportInterval time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithProgress streams statistics snapshots to p while the crawl runs.
func WithProgress(p Progress) EngineOption {
	return func(e *Engine) {
		e.progress = p
	}
}

// WithRunLog records the run's start and outcome under runID.
func WithRunLog(log RunLog, runID string) EngineOption {
	return func(e *Engine) {
		e.runLog = log
		e.runID = runID
	}
}

// WithReportInterval sets how often progress snapshots are emitted.
func WithReportInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.reportInterval = d
		}
	}
}

// NewEngine wires the crawl components together.
func NewEngine(
	cfg Config,
	frontier *Frontier,
	fetcher Fetcher,
	archiver DocumentArchiver,
	logger *zap.Logger,
	opts ...EngineOption,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:            cfg,
		frontier:       frontier,
		fetcher:        fetcher,
		archiver:       archiver,
		gate:           newPoliteGate(cfg.PoliteDelay),
		stats:          &Stats{},
		clock:          systemClock{},
		logger:         logger,
		reportInterval: defaultReportInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run crawls from the seed URL until the frontier drains or ctx is canceled.
// Per-URL failures are logged and never abort the run.
func (e *Engine) Run(ctx context.Context) error {
	if !e.frontier.Enqueue(e.cfg.SeedURL) && !e.frontier.Seen(e.cfg.SeedURL) {
		return fmt.Errorf("seed url %q rejected by frontier for domain %q", e.cfg.SeedURL, e.cfg.Domain)
	}
	e.logger.Info("Starting crawl",
		zap.String("seed", e.cfg.SeedURL),
		zap.String("domain", e.cfg.Domain),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	e.startRun(ctx)

	stop := context.AfterFunc(ctx, e.frontier.Close)
	defer stop()

	reportCtx, stopReports := context.WithCancel(context.Background())
	reportsDone := make(chan struct{})
	go func() {
		defer close(reportsDone)
		e.report(reportCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < max(1, e.cfg.Concurrency); i++ {
		g.Go(func() error {
			e.work(gctx)
			return nil
		})
	}
	err := g.Wait()

	stopReports()
	<-reportsDone
	e.finish(ctx)

	if err != nil {
		return fmt.Errorf("crawl workers: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

// Snapshot returns the current crawl statistics.
func (e *Engine) Snapshot() StatsSnapshot {
	s := e.stats.Snapshot()
	s.Queued = e.frontier.Len()
	return s
}

func (e *Engine) work(ctx context.Context) {
	for {
		u, ok := e.frontier.Next(ctx)
		if !ok {
			return
		}
		e.visit(ctx, u)
		e.frontier.Done()
	}
}

func (e *Engine) visit(ctx context.Context, u string) {
	e.frontier.MarkVisited(u)
	e.stats.recordVisit()
	e.logger.Info("Visiting", zap.String("url", u))

	if err := e.gate.Wait(ctx); err != nil {
		return
	}

	switch res := e.fetcher.Fetch(ctx, u).(type) {
	case HTMLPage:
		e.handlePage(res)
	case PDFResource:
		e.handlePDF(ctx, res)
	case OtherContent:
		e.stats.recordOther()
		e.logger.Info("Skipping content type",
			zap.String("url", res.URL),
			zap.String("content_type", res.ContentType),
		)
	case FetchFailure:
		e.stats.recordFailure()
		if errors.Is(res.Err, context.Canceled) {
			return
		}
		e.logger.Error("Failed to fetch URL",
			zap.String("url", res.URL),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Err),
		)
	default:
		e.logger.Error("Fetcher returned no result", zap.String("url", u))
	}
}

func (e *Engine) handlePage(page HTMLPage) {
	e.stats.recordPage()
	base := page.URL
	if page.FinalURL != "" && page.FinalURL != page.URL {
		base = page.FinalURL
		if IsValidURL(page.FinalURL, e.cfg.Domain) {
			e.frontier.MarkVisited(page.FinalURL)
		}
	}

	links, err := ExtractLinks(base, page.Body)
	if err != nil {
		e.logger.Warn("Failed to extract links", zap.String("url", page.URL), zap.Error(err))
		return
	}
	added := 0
	for _, link := range links {
		if e.frontier.Enqueue(link) {
			added++
		}
	}
	e.logger.Debug("Extracted links",
		zap.String("url", page.URL),
		zap.Int("found", len(links)),
		zap.Int("enqueued", added),
	)
}

func (e *Engine) handlePDF(ctx context.Context, pdf PDFResource) {
	defer pdf.Body.Close() //nolint:errcheck // body is fully consumed or abandoned

	outcome, err := e.archiver.Archive(ctx, pdf.URL, pdf.Body, pdf.DeclaredLength)
	if err != nil {
		e.stats.recordArchiveError()
		e.logger.Error("Failed to archive PDF", zap.String("url", pdf.URL), zap.Error(err))
		return
	}
	switch outcome.Kind {
	case OutcomeArchived:
		e.stats.recordArchived(pdf.DeclaredLength)
	case OutcomeTooSmall:
		e.stats.recordTooSmall()
	}
}

func (e *Engine) report(ctx context.Context) {
	ticker := time.NewTicker(e.reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := e.Snapshot()
			FrontierQueued.Set(float64(snapshot.Queued))
			if e.progress != nil {
				e.progress.Update(snapshot)
			}
		}
	}
}

func (e *Engine) startRun(ctx context.Context) {
	if e.runLog == nil {
		return
	}
	if err := e.runLog.StartRun(ctx, e.runID, e.cfg.SeedURL, e.clock.Now()); err != nil {
		e.logger.Warn("Failed to record run start", zap.String("run_id", e.runID), zap.Error(err))
	}
}

func (e *Engine) finish(ctx context.Context) {
	snapshot := e.Snapshot()
	FrontierQueued.Set(float64(snapshot.Queued))
	if e.progress != nil {
		e.progress.Finish(snapshot)
	}
	if e.runLog != nil {
		status := RunCompleted
		if ctx.Err() != nil {
			status = RunInterrupted
		}
		// The run's context may already be canceled; the outcome is still recorded.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := e.runLog.CompleteRun(recordCtx, e.runID, e.clock.Now(), status, snapshot); err != nil {
			e.logger.Warn("Failed to record run outcome", zap.String("run_id", e.runID), zap.Error(err))
		}
	}
	e.logger.Info("Crawl complete",
		zap.Int64("urls_visited", snapshot.URLsVisited),
		zap.Int64("pages_visited", snapshot.PagesVisited),
		zap.Int64("pdfs_downloaded", snapshot.PDFsDownloaded),
		zap.Int64("pdfs_skipped", snapshot.PDFsSkipped),
		zap.Int64("fetch_failures", snapshot.FetchFailures),
		zap.String("total_size", humanize.IBytes(uint64(max(snapshot.TotalBytes, 0)))),
	)
}
