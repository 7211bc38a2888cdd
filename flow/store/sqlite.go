package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It archives snapshots in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process workflows requiring persistence
//   - Prototyping before migrating to a server-backed store
//
// The store automatically creates its schema on first use and enables
// WAL mode so readers are not blocked by the writer.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./dev.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore("./flows.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS instance_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			data BLOB NOT NULL,
			taken_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(run_id, seq)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create instance_snapshots table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_snapshots_run_id ON instance_snapshots(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_snapshots_run_id: %w", err)
	}
	return nil
}

// Save implements Store. The sequence number is assigned inside a
// transaction so concurrent savers of the same run never collide.
func (s *SQLiteStore) Save(ctx context.Context, runID string, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM instance_snapshots WHERE run_id = ?", runID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to compute snapshot seq: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO instance_snapshots (run_id, seq, data) VALUES (?, ?, ?)",
		runID, seq, data,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return seq, nil
}

// LoadLatest implements Store.
func (s *SQLiteStore) LoadLatest(ctx context.Context, runID string) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		"SELECT run_id, seq, data, taken_at FROM instance_snapshots WHERE run_id = ? ORDER BY seq DESC LIMIT 1",
		runID,
	).Scan(&rec.RunID, &rec.Seq, &rec.Data, &rec.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return rec, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, runID string, seq int) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		"SELECT run_id, seq, data, taken_at FROM instance_snapshots WHERE run_id = ? AND seq = ?",
		runID, seq,
	).Scan(&rec.RunID, &rec.Seq, &rec.Data, &rec.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return rec, nil
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT run_id FROM instance_snapshots ORDER BY run_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		runs = append(runs, runID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// DeleteRun implements Store.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM instance_snapshots WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path this store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}
