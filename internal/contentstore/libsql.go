package contentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/docpilot/docpilot/internal/config"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content_type TEXT,
		content BLOB NOT NULL,
		stored_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_documents_stored_at ON documents(stored_at);`,
}

// Libsql stores documents in a local libsql file or a remote Turso database.
type Libsql struct {
	DB *sql.DB
}

// OpenLibsql connects to the database described by cfg.
func OpenLibsql(ctx context.Context, cfg config.StoreConfig) (*Libsql, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	return &Libsql{DB: db}, nil
}

// Migrate ensures the documents table exists.
func (s *Libsql) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}

// StoreDocument inserts or replaces doc.
func (s *Libsql) StoreDocument(ctx context.Context, doc Document) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if err := validate(doc); err != nil {
		return err
	}

	storedAt := doc.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO documents (id, name, content_type, content, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content_type = excluded.content_type,
			content = excluded.content,
			stored_at = excluded.stored_at
	`, doc.ID, doc.Name, doc.ContentType, doc.Content, storedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	return nil
}

// GetDocument loads the document stored under id.
func (s *Libsql) GetDocument(ctx context.Context, id string) (*Document, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	var (
		doc         Document
		contentType sql.NullString
		storedAt    int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, content_type, content, stored_at
		FROM documents
		WHERE id = ?
	`, id)
	if err := row.Scan(&doc.ID, &doc.Name, &contentType, &doc.Content, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	doc.ContentType = contentType.String
	doc.StoredAt = time.Unix(storedAt, 0).UTC()
	return &doc, nil
}

// Driver implements Store.
func (s *Libsql) Driver() string { return DriverLibsql }

// Ping checks the database connection.
func (s *Libsql) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close releases database resources.
func (s *Libsql) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("store path or url is required")
	case path == ":memory:", strings.HasPrefix(path, "libsql:"):
		return path, nil
	case strings.HasPrefix(path, "file:"):
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}
	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
