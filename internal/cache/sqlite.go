package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/probeweave/probeweave/internal/types"
)

// SQLiteStore implements Store using SQLite. Entries survive process
// restarts so prior work is never redone.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the cache database at path. The special
// value ":memory:" creates an in-memory database, useful for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create cache directory: %v", types.ErrCacheUnavailable, err)
		}
	}

	// WAL keeps concurrent readers cheap while one writer builds.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", types.ErrCacheUnavailable, err)
	}
	if path == ":memory:" {
		// The pool would otherwise hand each connection its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: failed to ping database: %v", types.ErrCacheUnavailable, err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", types.ErrCacheUnavailable, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the current entry for the fingerprint, or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, fp types.Fingerprint) (*types.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, language, transform_code, test_code, repaired, verdict, created_at
		FROM artifacts WHERE fingerprint = ?`, string(fp))

	var art types.Artifact
	var fpStr, verdictJSON string
	err := row.Scan(&fpStr, &art.Language, &art.TransformCode, &art.TestCode,
		&art.Origin.Repaired, &verdictJSON, &art.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read entry: %v", types.ErrCacheUnavailable, err)
	}

	art.Fingerprint = types.Fingerprint(fpStr)
	art.Verdict = &types.Verdict{}
	if err := json.Unmarshal([]byte(verdictJSON), art.Verdict); err != nil {
		return nil, fmt.Errorf("%w: corrupt verdict for %s: %v", types.ErrCacheUnavailable, fp.Short(), err)
	}
	return &art, nil
}

// Put installs a valid artifact as the current entry for its fingerprint.
// Last valid write wins; the single-flight layer guarantees only one build
// runs per key, so this is deterministic.
func (s *SQLiteStore) Put(ctx context.Context, artifact *types.Artifact) error {
	if err := checkStorable(artifact); err != nil {
		return err
	}
	verdictJSON, err := json.Marshal(artifact.Verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (fingerprint, language, transform_code, test_code, repaired, verdict, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			language = excluded.language,
			transform_code = excluded.transform_code,
			test_code = excluded.test_code,
			repaired = excluded.repaired,
			verdict = excluded.verdict,
			created_at = excluded.created_at`,
		string(artifact.Fingerprint), artifact.Language, artifact.TransformCode,
		artifact.TestCode, artifact.Origin.Repaired, string(verdictJSON), artifact.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to write entry: %v", types.ErrCacheUnavailable, err)
	}
	return nil
}

// RecordAttempt appends a provenance record.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, attempt *Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (fingerprint, attempt, origin, verdict, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(attempt.Fingerprint), attempt.Attempt, attempt.Origin,
		attempt.Verdict, attempt.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to record attempt: %v", types.ErrCacheUnavailable, err)
	}
	return nil
}

// Attempts returns the provenance history for a fingerprint, oldest first.
func (s *SQLiteStore) Attempts(ctx context.Context, fp types.Fingerprint) ([]*Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, attempt, origin, verdict, created_at
		FROM attempts WHERE fingerprint = ? ORDER BY id ASC`, string(fp))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query attempts: %v", types.ErrCacheUnavailable, err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		var fpStr string
		var created time.Time
		if err := rows.Scan(&fpStr, &a.Attempt, &a.Origin, &a.Verdict, &created); err != nil {
			return nil, fmt.Errorf("%w: failed to scan attempt: %v", types.ErrCacheUnavailable, err)
		}
		a.Fingerprint = types.Fingerprint(fpStr)
		a.CreatedAt = created
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate attempts: %v", types.ErrCacheUnavailable, err)
	}
	return out, nil
}

// Stats summarizes the store.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN repaired > 0 THEN 1 ELSE 0 END), 0) FROM artifacts`).
		Scan(&stats.Entries, &stats.Repaired)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read stats: %v", types.ErrCacheUnavailable, err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts`).Scan(&stats.Attempts); err != nil {
		return nil, fmt.Errorf("%w: failed to count attempts: %v", types.ErrCacheUnavailable, err)
	}
	return stats, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
