package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/keepalive/internal/store"
)

// DB implements store.Backend on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS registry_document(
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			body BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (p *DB) Read(ctx context.Context) ([]byte, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT body FROM registry_document WHERE id = 1;`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (p *DB) Write(ctx context.Context, doc []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO registry_document(id, body, updated_at)
		VALUES(1, $1, $2)
		ON CONFLICT(id) DO UPDATE SET
			body=EXCLUDED.body,
			updated_at=EXCLUDED.updated_at;`,
		doc, time.Now().UTC())
	return err
}

func (p *DB) Close() error { return p.db.Close() }
