package crawler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, seed string) Config {
	t.Helper()
	u, err := url.Parse(seed)
	require.NoError(t, err)
	return Config{
		SeedURL:         seed,
		Domain:          u.Hostname(),
		UserAgent:       "mohfw-crawler-test/1.0",
		Concurrency:     2,
		RequestTimeout:  2 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    10 * time.Millisecond,
		MaxHTMLBytes:    1 << 20,
		ArchiveDir:      t.TempDir(),
		MinPDFBytes:     51200,
		ChunkSize:       8192,
		SourceAuthority: "MoHFW",
		Tier:            "Tier1",
	}
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

// memStore is an in-memory BlobStore that can fail selected writes.
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failPaths map[string]error
	removed   []string
	maxRead   int
}

func newMemStore() *memStore {
	return &memStore{
		objects:   make(map[string][]byte),
		failPaths: make(map[string]error),
	}
}

func (m *memStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	m.mu.Lock()
	failErr := m.failPaths[path]
	m.mu.Unlock()
	if failErr != nil {
		return "", failErr
	}

	var buf bytes.Buffer
	chunk := make([]byte, 64<<10)
	for {
		n, err := data.Read(chunk)
		buf.Write(chunk[:n])
		m.mu.Lock()
		m.maxRead = max(m.maxRead, n)
		m.mu.Unlock()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = buf.Bytes()
	return "mem://" + path, nil
}

func (m *memStore) RemoveObject(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	m.removed = append(m.removed, path)
	return nil
}

func (m *memStore) object(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	return data, ok
}
