package session

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/navikt/polly-sub000/pkg/errors"
)

// SQLiteStore is a file-backed Store for single-instance deployments that
// need sessions to survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies pending
// migrations. An empty path opens an in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "file:sessions?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// modernc.org/sqlite does not support concurrent writers on one
	// connection pool; serialize access through a single connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

const sessionColumns = `id, owner_id, encrypted_refresh_secret, code_verifier, initiated_at, last_active_at`

// Put inserts or replaces a session.
func (s *SQLiteStore) Put(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.OwnerID,
		sess.EncryptedRefreshSecret,
		sess.CodeVerifier,
		sess.InitiatedAt.UTC().Format(time.RFC3339Nano),
		sess.LastActiveAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	var (
		sess          Session
		initiatedStr  string
		lastActiveStr string
	)
	err := row.Scan(
		&sess.ID, &sess.OwnerID, &sess.EncryptedRefreshSecret,
		&sess.CodeVerifier, &initiatedStr, &lastActiveStr,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return Session{}, errors.NewNotFoundError("session not found", nil)
		}
		return Session{}, fmt.Errorf("failed to scan session row: %w", err)
	}

	if sess.InitiatedAt, err = time.Parse(time.RFC3339Nano, initiatedStr); err != nil {
		return Session{}, fmt.Errorf("failed to parse initiated_at: %w", err)
	}
	if sess.LastActiveAt, err = time.Parse(time.RFC3339Nano, lastActiveStr); err != nil {
		return Session{}, fmt.Errorf("failed to parse last_active_at: %w", err)
	}
	return sess, nil
}

// Update replaces an existing session.
func (s *SQLiteStore) Update(ctx context.Context, sess Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			owner_id = ?, encrypted_refresh_secret = ?, code_verifier = ?,
			initiated_at = ?, last_active_at = ?
		WHERE id = ?`,
		sess.OwnerID,
		sess.EncryptedRefreshSecret,
		sess.CodeVerifier,
		sess.InitiatedAt.UTC().Format(time.RFC3339Nano),
		sess.LastActiveAt.UTC().Format(time.RFC3339Nano),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return errors.NewNotFoundError("session not found", nil)
	}
	return nil
}

// TouchLastActive refreshes only the session's activity timestamp.
func (s *SQLiteStore) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return errors.NewNotFoundError("session not found", nil)
	}
	return nil
}

// DeleteIdleSince removes all sessions idle since before the cutoff.
func (s *SQLiteStore) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_active_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return int(affected), nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
