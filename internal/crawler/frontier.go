package crawler

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

const compactThreshold = 1024

// Frontier is the FIFO crawl queue plus the visited set. Every method is safe
// for concurrent use; enqueue, dequeue and the membership checks run under a
// single mutex so two workers can never queue the same URL.
type Frontier struct {
	domain string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []string
	head     int
	known    mapset.Set[string] // queued or visited
	visited  mapset.Set[string]
	inFlight int
	closed   bool
}

// NewFrontier returns an empty frontier restricted to domain and its subdomains.
func NewFrontier(domain string) *Frontier {
	f := &Frontier{
		domain:  domain,
		known:   mapset.NewThreadUnsafeSet[string](),
		visited: mapset.NewThreadUnsafeSet[string](),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Enqueue appends rawURL to the tail of the queue. It returns false when the
// URL is malformed, out of scope, already queued or already visited.
func (f *Frontier) Enqueue(rawURL string) bool {
	u, err := parseAbsolute(rawURL)
	if err != nil || !InScope(u, f.domain) {
		return false
	}
	key := normalize(u).String()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if !f.known.Add(key) {
		return false
	}
	f.queue = append(f.queue, key)
	f.cond.Signal()
	return true
}

// Dequeue pops the head of the queue without blocking. The returned URL is
// counted as in flight until Done is called for it.
func (f *Frontier) Dequeue() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popLocked()
}

// Next blocks until a URL is available. It returns false once the queue is
// empty with nothing in flight, or when the frontier is closed or ctx ends.
func (f *Frontier) Next(ctx context.Context) (string, bool) {
	stop := context.AfterFunc(ctx, f.wake)
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed || ctx.Err() != nil {
			return "", false
		}
		if u, ok := f.popLocked(); ok {
			return u, true
		}
		if f.inFlight == 0 {
			f.cond.Broadcast()
			return "", false
		}
		f.cond.Wait()
	}
}

// Done releases the in-flight slot taken by Dequeue or Next.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	f.cond.Broadcast()
}

// MarkVisited records rawURL as processed. Calling it twice is harmless.
func (f *Frontier) MarkVisited(rawURL string) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited.Add(key)
	f.known.Add(key)
}

// Visited reports whether rawURL has been marked visited.
func (f *Frontier) Visited(rawURL string) bool {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited.Contains(key)
}

// Seen reports whether rawURL was ever accepted by the frontier.
func (f *Frontier) Seen(rawURL string) bool {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known.Contains(key)
}

// Len returns the number of queued URLs.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.head
}

// InFlight returns the number of dequeued URLs not yet marked Done.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Close stops the frontier from accepting or handing out URLs and wakes all
// blocked callers of Next.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

func (f *Frontier) wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *Frontier) popLocked() (string, bool) {
	for f.head < len(f.queue) {
		u := f.queue[f.head]
		f.queue[f.head] = ""
		f.head++
		f.compactLocked()
		if f.visited.Contains(u) {
			continue
		}
		f.inFlight++
		return u, true
	}
	return "", false
}

func (f *Frontier) compactLocked() {
	if f.head == len(f.queue) {
		f.queue = f.queue[:0]
		f.head = 0
		return
	}
	if f.head < compactThreshold || f.head*2 < len(f.queue) {
		return
	}
	n := copy(f.queue, f.queue[f.head:])
	f.queue = f.queue[:n]
	f.head = 0
}
