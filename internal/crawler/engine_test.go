package crawler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mohfw-pdf-crawler/internal/crawler"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/publisher/memory"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/storage/local"
)

func writePDF(w http.ResponseWriter, size int) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(size))
	_, _ = w.Write(bytes.Repeat([]byte("x"), size))
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><body>
			<a href="/report.pdf">Report</a>
			<a href="/tiny.pdf">Tiny</a>
			<a href="https://evil.example.com/a.pdf">Elsewhere</a>
			<a href="#top">Top</a>
		</body></html>`)
	})
	mux.HandleFunc("/report.pdf", func(w http.ResponseWriter, _ *http.Request) {
		writePDF(w, 100000)
	})
	mux.HandleFunc("/tiny.pdf", func(w http.ResponseWriter, _ *http.Request) {
		writePDF(w, 1000)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func engineConfig(t *testing.T, seed string) crawler.Config {
	t.Helper()
	return crawler.Config{
		SeedURL:         seed,
		Domain:          "127.0.0.1",
		UserAgent:       "mohfw-crawler-test/1.0",
		Concurrency:     2,
		RequestTimeout:  2 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    5 * time.Millisecond,
		MaxHTMLBytes:    1 << 20,
		ArchiveDir:      t.TempDir(),
		MinPDFBytes:     51200,
		ChunkSize:       8192,
		SourceAuthority: "MoHFW",
		Tier:            "Tier1",
	}
}

type recordingProgress struct {
	mu       sync.Mutex
	updates  int
	finished *crawler.StatsSnapshot
}

func (p *recordingProgress) Update(crawler.StatsSnapshot) {
	p.mu.Lock()
	p.updates++
	p.mu.Unlock()
}

func (p *recordingProgress) Finish(s crawler.StatsSnapshot) {
	p.mu.Lock()
	p.finished = &s
	p.mu.Unlock()
}

func newEngine(t *testing.T, cfg crawler.Config, opts ...crawler.EngineOption) (*crawler.Engine, *crawler.Frontier) {
	t.Helper()
	return newEngineWithArchiver(t, cfg, nil, opts...)
}

func newEngineWithArchiver(
	t *testing.T,
	cfg crawler.Config,
	archiveOpts []crawler.ArchiverOption,
	opts ...crawler.EngineOption,
) (*crawler.Engine, *crawler.Frontier) {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: cfg.ArchiveDir})
	require.NoError(t, err)
	logger := zap.NewNop()
	frontier := crawler.NewFrontier(cfg.Domain)
	fetcher := crawler.NewHTTPFetcher(cfg, logger)
	archiver := crawler.NewArchiver(cfg, store, logger, archiveOpts...)
	return crawler.NewEngine(cfg, frontier, fetcher, archiver, logger, opts...), frontier
}

func TestEngineArchivesLargePDFsOnly(t *testing.T) {
	srv := newSite(t)
	cfg := engineConfig(t, srv.URL+"/")
	progress := &recordingProgress{}
	engine, frontier := newEngine(t, cfg, crawler.WithProgress(progress), crawler.WithReportInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, engine.Run(ctx))

	snapshot := engine.Snapshot()
	assert.Equal(t, int64(1), snapshot.PDFsDownloaded)
	assert.Equal(t, int64(1), snapshot.PDFsSkipped)
	assert.Equal(t, int64(1), snapshot.PagesVisited)
	assert.Equal(t, int64(3), snapshot.URLsVisited)
	assert.Equal(t, int64(100000), snapshot.TotalBytes)
	assert.Zero(t, snapshot.Queued)
	assert.False(t, frontier.Seen("https://evil.example.com/a.pdf"))

	entries, err := os.ReadDir(cfg.ArchiveDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"report.pdf", "report.pdf.json"}, names)

	info, err := os.Stat(filepath.Join(cfg.ArchiveDir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, int64(100000), info.Size())

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(cfg.ArchiveDir, "report.pdf.json"))
	require.NoError(t, err)
	var record crawler.DocumentRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, "MoHFW", record.SourceAuthority)
	assert.Equal(t, "Tier1", record.Tier)
	assert.Equal(t, srv.URL+"/report.pdf", record.DownloadURL)
	assert.Equal(t, "report.pdf", record.FileName)
	assert.InDelta(t, 97.66, record.FileSizeKB, 0.001)
	_, err = time.Parse(time.DateOnly, record.CrawlDate)
	assert.NoError(t, err)

	progress.mu.Lock()
	defer progress.mu.Unlock()
	require.NotNil(t, progress.finished)
	assert.Equal(t, int64(1), progress.finished.PDFsDownloaded)
}

func TestEngineSurvivesFetchFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<a href="/missing.pdf">gone</a><a href="/ok.pdf">ok</a><a href="/logo.png">logo</a>`)
	})
	mux.HandleFunc("/ok.pdf", func(w http.ResponseWriter, _ *http.Request) {
		writePDF(w, 60000)
	})
	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := engineConfig(t, srv.URL+"/")
	engine, _ := newEngine(t, cfg)
	require.NoError(t, engine.Run(context.Background()))

	snapshot := engine.Snapshot()
	assert.Equal(t, int64(1), snapshot.FetchFailures)
	assert.Equal(t, int64(1), snapshot.PDFsDownloaded)
	assert.Equal(t, int64(1), snapshot.SkippedOther)
	assert.Equal(t, int64(4), snapshot.URLsVisited)
}

func TestEngineFinishesDespiteStalledDownload(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<a href="/stall.pdf">stall</a><a href="/ok.pdf">ok</a>`)
	})
	mux.HandleFunc("/stall.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "90000")
		_, _ = w.Write(bytes.Repeat([]byte("s"), 1024))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	mux.HandleFunc("/ok.pdf", func(w http.ResponseWriter, _ *http.Request) {
		writePDF(w, 60000)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := engineConfig(t, srv.URL+"/")
	cfg.RequestTimeout = 150 * time.Millisecond
	engine, _ := newEngine(t, cfg)

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("crawl did not drain with a stalled download in flight")
	}

	snapshot := engine.Snapshot()
	assert.Equal(t, int64(1), snapshot.ArchiveErrors)
	assert.Equal(t, int64(1), snapshot.PDFsDownloaded)
	_, err := os.Stat(filepath.Join(cfg.ArchiveDir, "stall.pdf"))
	assert.True(t, os.IsNotExist(err), "partial download is removed")
}

func TestEngineVisitsEachPageOnce(t *testing.T) {
	var mu sync.Mutex
	hits := make(map[string]int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		var links bytes.Buffer
		for i := 0; i < 5; i++ {
			fmt.Fprintf(&links, `<a href="/p%d">p</a><a href="/p%d#frag">p</a>`, i, i)
		}
		_, _ = w.Write(links.Bytes())
	}))
	t.Cleanup(srv.Close)

	cfg := engineConfig(t, srv.URL+"/")
	cfg.Concurrency = 4
	engine, _ := newEngine(t, cfg)
	require.NoError(t, engine.Run(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, hits, 6)
	for path, n := range hits {
		assert.Equal(t, 1, n, "path %s fetched more than once", path)
	}
	assert.Equal(t, int64(6), engine.Snapshot().PagesVisited)
}

func TestEngineSpacesRequests(t *testing.T) {
	srv := newSite(t)
	cfg := engineConfig(t, srv.URL+"/")
	cfg.PoliteDelay = 50 * time.Millisecond
	engine, _ := newEngine(t, cfg)

	start := time.Now()
	require.NoError(t, engine.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "three requests need two delays")
}

func TestEngineStopsOnCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<a href="%s/next">next</a>`, strings.TrimSuffix(r.URL.Path, "/"))
	}))
	t.Cleanup(srv.Close)

	cfg := engineConfig(t, srv.URL+"/")
	cfg.PoliteDelay = 20 * time.Millisecond
	engine, _ := newEngine(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}
	assert.Positive(t, engine.Snapshot().PagesVisited)
}

func TestEngineRejectsOutOfScopeSeed(t *testing.T) {
	cfg := engineConfig(t, "https://evil.example.com/")
	engine, _ := newEngine(t, cfg)
	assert.Error(t, engine.Run(context.Background()))
}

type recordingRunLog struct {
	mu       sync.Mutex
	started  []string
	status   crawler.RunStatus
	snapshot crawler.StatsSnapshot
}

func (r *recordingRunLog) StartRun(_ context.Context, runID, _ string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, runID)
	return nil
}

func (r *recordingRunLog) CompleteRun(
	_ context.Context,
	_ string,
	_ time.Time,
	status crawler.RunStatus,
	snapshot crawler.StatsSnapshot,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.snapshot = snapshot
	return nil
}

func TestEngineNotifiesAndRecordsRun(t *testing.T) {
	srv := newSite(t)
	cfg := engineConfig(t, srv.URL+"/")
	pub := memory.New()
	runLog := &recordingRunLog{}
	engine, _ := newEngineWithArchiver(t, cfg,
		[]crawler.ArchiverOption{crawler.WithPublisher(pub)},
		crawler.WithRunLog(runLog, "run-42"),
	)

	require.NoError(t, engine.Run(context.Background()))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	record, ok := msgs[0].(crawler.DocumentRecord)
	require.True(t, ok, "got %T", msgs[0])
	assert.Equal(t, "report.pdf", record.FileName)

	runLog.mu.Lock()
	defer runLog.mu.Unlock()
	assert.Equal(t, []string{"run-42"}, runLog.started)
	assert.Equal(t, crawler.RunCompleted, runLog.status)
	assert.Equal(t, int64(1), runLog.snapshot.PDFsDownloaded)
}
