// Package contentstore keeps the raw bytes of uploaded documents so they can
// be served back by id.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docpilot/docpilot/internal/config"
)

// Backend names accepted in store.driver.
const (
	DriverMemory = "memory"
	DriverNoop   = "noop"
	DriverLibsql = "libsql"
)

// ErrNotFound is returned when no content is stored under an id.
var ErrNotFound = errors.New("document not found")

// Document is a stored upload.
type Document struct {
	ID          string
	Name        string
	ContentType string
	Content     []byte
	StoredAt    time.Time
}

// Store persists document content by id.
type Store interface {
	StoreDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	// Driver names the backend, one of the Driver* constants.
	Driver() string
	Close() error
}

// Open returns the backend selected by cfg.Driver. An empty driver means
// memory.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverNoop:
		return Noop{}, nil
	case DriverLibsql:
		store, err := OpenLibsql(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

func validate(doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return errors.New("document id is required")
	}
	return nil
}
