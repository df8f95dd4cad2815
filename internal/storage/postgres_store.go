package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps each document as a jsonb row in the documents table.
// Every write bumps the row's version counter.
type PostgresStore struct {
	db *PostgresDB
}

// NewPostgresStore creates a document store on an open connection pool
func NewPostgresStore(db *PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Read returns the raw document body
func (s *PostgresStore) Read(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	err := s.db.Pool().QueryRow(ctx,
		`SELECT body FROM documents WHERE name = $1`, name,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to query document %s: %w", name, err)
	}
	return body, nil
}

// Write replaces the document body in a single upsert
func (s *PostgresStore) Write(ctx context.Context, name string, data []byte) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO documents (name, body, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (name) DO UPDATE
		SET body = EXCLUDED.body,
		    version = documents.version + 1,
		    updated_at = NOW()`,
		name, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", name, err)
	}
	return nil
}

// Version returns the number of times a document has been written, or zero
// if it does not exist
func (s *PostgresStore) Version(ctx context.Context, name string) (int64, error) {
	var version int64
	err := s.db.Pool().QueryRow(ctx,
		`SELECT version FROM documents WHERE name = $1`, name,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query version of %s: %w", name, err)
	}
	return version, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
