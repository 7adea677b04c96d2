// Package sqlite provides a core.SessionStore persisting history snapshots
// in a SQLite database, so conversations survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/hupe1980/personamesh/core"
)

// Store persists snapshots in SQLite.
type Store struct {
	db *sql.DB
}

var _ core.SessionStore = (*Store)(nil)

// Open opens (or creates) the database at dsn and runs migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	s, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// NewStore creates a snapshot store on db, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate snapshots: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			session_id TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save inserts or replaces the snapshot of sessionID.
func (s *Store) Save(ctx context.Context, sessionID string, data []byte) error {
	if sessionID == "" {
		return errors.New("save snapshot: empty session id")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		sessionID, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the snapshot or core.ErrSessionNotFound.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE session_id = ?`, sessionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}

	return data, nil
}

// List returns all session ids in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM snapshots ORDER BY session_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a snapshot. Non-existent ids are a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, sessionID)
	return err
}
