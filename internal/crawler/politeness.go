package crawler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// politeGate spaces requests across all workers by at least one interval.
type politeGate struct {
	limiter *rate.Limiter
}

func newPoliteGate(interval time.Duration) *politeGate {
	if interval <= 0 {
		return &politeGate{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &politeGate{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next request slot opens or ctx ends.
func (g *politeGate) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("polite delay: %w", err)
	}
	return nil
}

// pauseController abstracts how the crawler sleeps between retry attempts.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
