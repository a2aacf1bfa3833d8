// Package configstore persists the portal's JSON documents with a monotonic
// revision so concurrent admin edits cannot silently overwrite each other.
package configstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrConflict is returned when a write raced with another writer.
var ErrConflict = errors.New("document was modified concurrently")

// Document is one stored revision of a JSON document.
type Document struct {
	Key       string    `dynamodbav:"doc_key"`
	Revision  int64     `dynamodbav:"revision"`
	Body      string    `dynamodbav:"body"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// Backend stores document revisions.
type Backend interface {
	// Latest returns the highest revision of key, or nil when none exists.
	Latest(ctx context.Context, key string) (*Document, error)

	// Put stores doc. It fails with ErrConflict if doc.Revision or any newer
	// revision of the key already exists.
	Put(ctx context.Context, doc *Document) error

	// Prune deletes every revision of key older than keep.
	Prune(ctx context.Context, key string, keep int64) error
}

// MemoryBackend keeps revisions in a map. Used in DEV_MODE and tests.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string]map[int64]Document
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[int64]Document)}
}

func (m *MemoryBackend) Latest(ctx context.Context, key string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Document
	for _, d := range m.docs[key] {
		if latest == nil || d.Revision > latest.Revision {
			d := d
			latest = &d
		}
	}
	return latest, nil
}

func (m *MemoryBackend) Put(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs, ok := m.docs[doc.Key]
	if !ok {
		revs = make(map[int64]Document)
		m.docs[doc.Key] = revs
	}
	for rev := range revs {
		if rev >= doc.Revision {
			return ErrConflict
		}
	}
	revs[doc.Revision] = *doc
	return nil
}

func (m *MemoryBackend) Prune(ctx context.Context, key string, keep int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for rev := range m.docs[key] {
		if rev < keep {
			delete(m.docs[key], rev)
		}
	}
	return nil
}

// Revisions lists the stored revisions of key in ascending order.
func (m *MemoryBackend) Revisions(key string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.docs[key]))
	for rev := range m.docs[key] {
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
