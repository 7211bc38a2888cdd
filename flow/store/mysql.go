package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for:
//   - Deployments where multiple processes share the snapshot archive
//   - Long-lived runs that must survive process restarts
//   - Audit trails over instance state
//
// MySQLStore uses connection pooling and transactions for reliability.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials in source; read the DSN from the
// environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	st, err := store.NewMySQLStore(dsn)
//
// The DSN must include parseTime=true so timestamp columns scan into
// time.Time.
//
// The store creates its tables if they don't exist and configures the
// connection pool with conservative limits.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS instance_snapshots (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			data LONGBLOB NOT NULL,
			taken_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uq_run_seq (run_id, seq),
			KEY idx_snapshots_run_id (run_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create instance_snapshots table: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *MySQLStore) Save(ctx context.Context, runID string, data []byte) (int, error) {
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
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM instance_snapshots WHERE run_id = ? FOR UPDATE", runID,
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
func (s *MySQLStore) LoadLatest(ctx context.Context, runID string) (Record, error) {
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
func (s *MySQLStore) Load(ctx context.Context, runID string, seq int) (Record, error) {
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
func (s *MySQLStore) ListRuns(ctx context.Context) ([]string, error) {
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
func (s *MySQLStore) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM instance_snapshots WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
