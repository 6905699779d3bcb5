// Package memory keeps archived documents in process memory. It backs dry
// runs that exercise the crawl without touching disk or a bucket.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// BlobStore holds objects keyed by name.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

type object struct {
	contentType string
	data        []byte
}

// New creates an empty store.
func New() *BlobStore {
	return &BlobStore{objects: make(map[string]object)}
}

// PutObject reads data fully and stores a private copy under name. Writing an
// existing name replaces it.
func (s *BlobStore) PutObject(ctx context.Context, name, contentType string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = object{contentType: contentType, data: buf}
	return "memory://" + name, nil
}

// RemoveObject drops name. Missing objects are ignored.
func (s *BlobStore) RemoveObject(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	return nil
}

// Object returns a copy of the stored bytes and their content type.
func (s *BlobStore) Object(name string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// Names lists stored objects in lexical order.
func (s *BlobStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
