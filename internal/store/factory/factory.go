package factory

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/loykin/keepalive/internal/store"
	pg "github.com/loykin/keepalive/internal/store/postgres"
	sq "github.com/loykin/keepalive/internal/store/sqlite"
)

// NewFromDSN selects a registry backend based on DSN.
// Supported:
//   - memory:   "memory://"
//   - file:     "file://<path>" or a bare path (JSON document)
//   - sqlite:   "sqlite://<path>" or a bare path ending in .db/.sqlite/.sqlite3
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(ctx context.Context, dsn string) (store.Backend, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, errors.New("empty DSN")
	case strings.HasPrefix(ld, "memory://"):
		return store.NewMemoryBackend(), nil
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		db, err := pg.New(d)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.HasPrefix(ld, "file://"):
		return store.NewFileBackend(d[len("file://"):])
	}
	switch strings.ToLower(filepath.Ext(d)) {
	case ".db", ".sqlite", ".sqlite3":
		return sq.New(d)
	}
	return store.NewFileBackend(d)
}

// Redact returns dsn with any password replaced by "xxxxx", for logging.
func Redact(dsn string) string {
	d := strings.TrimSpace(dsn)
	if !strings.Contains(d, "://") {
		return d
	}
	u, err := url.Parse(d)
	if err != nil {
		// An unparsable DSN may still carry credentials; keep only the scheme.
		scheme, _, _ := strings.Cut(d, "://")
		return scheme + "://"
	}
	return u.Redacted()
}
