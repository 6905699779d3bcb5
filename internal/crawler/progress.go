package crawler

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressBar renders a single continuously refreshed status line.
type ProgressBar struct {
	progress *mpb.Progress
	bar      *mpb.Bar

	mu       sync.Mutex
	snapshot StatsSnapshot
}

// NewProgressBar draws the status line on w.
func NewProgressBar(w io.Writer) *ProgressBar {
	p := &ProgressBar{
		progress: mpb.New(mpb.WithOutput(w), mpb.WithAutoRefresh(), mpb.WithRefreshRate(250*time.Millisecond)),
	}
	p.bar = p.progress.New(0,
		mpb.SpinnerStyle(),
		mpb.PrependDecorators(decor.Name("Progress:", decor.WCSyncSpaceR)),
		mpb.AppendDecorators(decor.Any(p.describe)),
	)
	return p
}

// Update replaces the statistics shown on the line.
func (p *ProgressBar) Update(snapshot StatsSnapshot) {
	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()
}

// Finish renders the final statistics and releases the terminal.
func (p *ProgressBar) Finish(snapshot StatsSnapshot) {
	p.Update(snapshot)
	p.bar.SetTotal(-1, true)
	p.progress.Wait()
}

func (p *ProgressBar) describe(decor.Statistics) string {
	p.mu.Lock()
	s := p.snapshot
	p.mu.Unlock()
	return FormatProgress(s)
}

// FormatProgress renders the one-line crawl summary.
func FormatProgress(s StatsSnapshot) string {
	return fmt.Sprintf("Pages Visited: %d | PDFs: %d | Total Size: %s | Queued: %d",
		s.PagesVisited, s.PDFsDownloaded, humanize.IBytes(uint64(max(s.TotalBytes, 0))), s.Queued)
}
