// Package store provides persistence backends for portable workflow
// instance snapshots.
//
// The flow engine serializes an instance into an opaque byte blob (its
// snapshot codec owns the format); a Store archives those blobs per run
// so the structural state of a workflow (queue contents, stats, shared
// map, step logs) survives the process. Effects are code and are never
// part of a snapshot; re-attaching them after a restore is the caller's
// responsibility.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run has no stored snapshots.
var ErrNotFound = errors.New("not found")

// Record is one archived snapshot.
type Record struct {
	// RunID identifies the workflow instance the snapshot belongs to.
	RunID string

	// Seq is the snapshot's position in the run's archive, starting at 1.
	Seq int

	// TakenAt is when the snapshot was saved.
	TakenAt time.Time

	// Data is the encoded snapshot blob.
	Data []byte
}

// Store archives instance snapshots.
//
// Implementations in this package:
//   - MemStore: in-memory, for tests and short-lived processes
//   - SQLiteStore: single-file embedded database
//   - MySQLStore: server-backed, for deployments with shared storage
type Store interface {
	// Save appends a snapshot to the run's archive and returns its
	// sequence number.
	Save(ctx context.Context, runID string, data []byte) (seq int, err error)

	// LoadLatest retrieves the most recent snapshot for a run.
	// Returns ErrNotFound when the run has none.
	LoadLatest(ctx context.Context, runID string) (Record, error)

	// Load retrieves a specific snapshot by sequence number.
	// Returns ErrNotFound when it does not exist.
	Load(ctx context.Context, runID string, seq int) (Record, error)

	// ListRuns returns the IDs of all runs with at least one snapshot.
	ListRuns(ctx context.Context) ([]string, error)

	// DeleteRun removes all snapshots for a run. Deleting a run with no
	// snapshots is not an error.
	DeleteRun(ctx context.Context, runID string) error

	// Close releases the backend's resources.
	Close() error
}
