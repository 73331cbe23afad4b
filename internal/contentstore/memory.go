package contentstore

import (
	"context"
	"sync"
	"time"
)

// Memory keeps documents in process memory.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
	now  func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document), now: time.Now}
}

// StoreDocument saves doc, replacing any previous content under the same id.
func (m *Memory) StoreDocument(ctx context.Context, doc Document) error {
	if err := validate(doc); err != nil {
		return err
	}

	doc.Content = append([]byte(nil), doc.Content...)
	if doc.StoredAt.IsZero() {
		doc.StoredAt = m.now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

// GetDocument returns a copy of the stored document.
func (m *Memory) GetDocument(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	doc.Content = append([]byte(nil), doc.Content...)
	return &doc, nil
}

// Close is a no-op.
// Driver implements Store.
func (m *Memory) Driver() string { return DriverMemory }

func (m *Memory) Close() error {
	return nil
}

// Noop accepts writes and never finds anything.
type Noop struct{}

// StoreDocument discards doc.
func (Noop) StoreDocument(context.Context, Document) error {
	return nil
}

// GetDocument always reports ErrNotFound.
func (Noop) GetDocument(context.Context, string) (*Document, error) {
	return nil, ErrNotFound
}

// Close is a no-op.
// Driver implements Store.
func (Noop) Driver() string { return DriverNoop }

func (Noop) Close() error {
	return nil
}
