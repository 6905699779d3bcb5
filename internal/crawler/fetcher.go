package crawler

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const drainLimit = 64 << 10

// genericMediaTypes are content types some servers send for PDFs.
var genericMediaTypes = map[string]struct{}{
	"":                           {},
	"application/octet-stream":   {},
	"binary/octet-stream":        {},
	"application/download":       {},
	"application/x-download":     {},
	"application/force-download": {},
}

// HTTPFetcher implements Fetcher on net/http with bounded retries.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxHTMLBytes int64
	idleTimeout  time.Duration
	retry        RetryPolicy
	pauser       pauseController
	logger       *zap.Logger
}

// NewHTTPFetcher constructs a fetcher from the crawl configuration.
func NewHTTPFetcher(cfg Config, logger *zap.Logger) *HTTPFetcher {
	return NewHTTPFetcherWithClient(cfg, &http.Client{Transport: newHTTPTransport(cfg)}, logger)
}

// NewHTTPFetcherWithClient uses the supplied client (primarily for testing).
func NewHTTPFetcherWithClient(cfg Config, client *http.Client, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport(cfg)}
	}
	return &HTTPFetcher{
		client:       client,
		userAgent:    cfg.UserAgent,
		maxHTMLBytes: cfg.MaxHTMLBytes,
		idleTimeout:  cfg.RequestTimeout,
		retry:        NewFixedRetryPolicy(cfg.MaxAttempts, cfg.RetryBackoff),
		pauser:       &timerPauseController{},
		logger:       logger,
	}
}

// Fetch performs a GET with retries and classifies the response.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) FetchResult {
	for attempt := 1; ; attempt++ {
		resp, err := f.do(ctx, rawURL)
		if err == nil {
			return f.classify(rawURL, resp, attempt)
		}
		TotalRequestErrors.Inc()
		if ctx.Err() != nil || !f.retry.ShouldRetry(err, attempt) {
			return FetchFailure{URL: rawURL, Attempts: attempt, Err: err}
		}
		f.logger.Warn("Fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.retry.MaxAttempts()),
			zap.Error(err),
		)
		f.pauser.Pause(ctx, f.retry.Backoff(attempt))
	}
}

func (f *HTTPFetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	TotalRequests.Inc()
	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("http get: %w", err)
	}
	resp.Body = newIdleTimeoutBody(resp.Body, f.idleTimeout, cancel)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		discardBody(resp.Body)
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

func (f *HTTPFetcher) classify(rawURL string, resp *http.Response, attempt int) FetchResult {
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	rawType := resp.Header.Get("Content-Type")
	mediaType := parseMediaType(rawType)

	switch {
	case mediaType == "application/pdf":
		return PDFResource{URL: rawURL, Body: resp.Body, DeclaredLength: resp.ContentLength}
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		body, err := f.readHTML(resp.Body)
		if err != nil {
			return FetchFailure{URL: rawURL, Attempts: attempt, Err: err}
		}
		return HTMLPage{URL: rawURL, FinalURL: finalURL, Body: body}
	case isGenericMediaType(mediaType) && (hasPDFSuffix(rawURL) || hasPDFSuffix(finalURL)):
		return PDFResource{URL: rawURL, Body: resp.Body, DeclaredLength: resp.ContentLength}
	default:
		discardBody(resp.Body)
		return OtherContent{URL: rawURL, ContentType: rawType}
	}
}

func (f *HTTPFetcher) readHTML(body io.ReadCloser) ([]byte, error) {
	defer body.Close() //nolint:errcheck // read-only body
	data, err := io.ReadAll(io.LimitReader(body, f.maxHTMLBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxHTMLBytes {
		f.logger.Warn("HTML body truncated", zap.Int64("max_bytes", f.maxHTMLBytes))
		data = data[:f.maxHTMLBytes]
	}
	return data, nil
}

// idleTimeoutBody aborts its request when a single Read waits longer than
// timeout for data. The clock only runs inside Read, so a slow consumer never
// trips it.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	stalled atomic.Bool
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{rc: rc, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.stalled.Store(true)
			cancel()
		})
		b.timer.Stop()
	}
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.timer == nil {
		return b.rc.Read(p)
	}
	b.timer.Reset(b.timeout)
	n, err := b.rc.Read(p)
	b.timer.Stop()
	if err != nil && b.stalled.Load() {
		return n, fmt.Errorf("%w after %s", ErrStalledBody, b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.rc.Close()
	b.cancel()
	return err
}

func parseMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		mediaType, _, _ = strings.Cut(raw, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isGenericMediaType(mediaType string) bool {
	_, ok := genericMediaTypes[mediaType]
	return ok
}

func discardBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	_ = body.Close()
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.RequestTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.RequestTimeout,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   max(2, cfg.Concurrency*2),
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
