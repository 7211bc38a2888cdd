package flow

import (
	"sync"
	"time"
)

// DefaultLogRing is the bounded ring size used when Options.LogRing is 0.
const DefaultLogRing = 128

// LogLevel classifies a step log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one appended step log line.
type LogEntry struct {
	// TS is the entry timestamp in Unix milliseconds.
	TS int64 `json:"ts"`

	// Level is the entry's severity.
	Level LogLevel `json:"level"`

	// Args are the logged values. They must be JSON-serializable for
	// the entry to survive snapshotting.
	Args []interface{} `json:"args"`
}

// StepLog records one step's execution history twice over: a bounded ring
// that drops its oldest entry past the configured size, for cheap recent
// inspection, and an unbounded archive for post-hoc debugging.
//
// Bridge fallbacks and retry scheduling land here rather than on the
// event bus, keeping the bus for lifecycle transitions only.
type StepLog struct {
	mu       sync.Mutex
	ringSize int
	ring     []LogEntry
	archive  []LogEntry
}

// NewStepLog creates a log with the given ring size. Sizes below 1 fall
// back to DefaultLogRing.
func NewStepLog(ringSize int) *StepLog {
	if ringSize < 1 {
		ringSize = DefaultLogRing
	}
	return &StepLog{ringSize: ringSize}
}

// Append pushes an entry into both the ring and the archive.
func (l *StepLog) Append(level LogLevel, args ...interface{}) {
	entry := LogEntry{
		TS:    time.Now().UnixMilli(),
		Level: level,
		Args:  args,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring = append(l.ring, entry)
	if len(l.ring) > l.ringSize {
		l.ring = l.ring[1:]
	}
	l.archive = append(l.archive, entry)
}

// Ring returns a copy of the bounded ring, oldest first.
func (l *StepLog) Ring() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LogEntry, len(l.ring))
	copy(out, l.ring)
	return out
}

// Archive returns a copy of the full unbounded archive, oldest first.
func (l *StepLog) Archive() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LogEntry, len(l.archive))
	copy(out, l.archive)
	return out
}

// Len returns the archive length.
func (l *StepLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.archive)
}

// StepLogSnapshot is the serializable form of a StepLog.
type StepLogSnapshot struct {
	Ring    []LogEntry `json:"ring"`
	Archive []LogEntry `json:"archive"`
}

// snapshot captures the log's current contents.
func (l *StepLog) snapshot() StepLogSnapshot {
	return StepLogSnapshot{Ring: l.Ring(), Archive: l.Archive()}
}

// restore replaces the log's contents from a snapshot.
func (l *StepLog) restore(snap StepLogSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring = append([]LogEntry(nil), snap.Ring...)
	l.archive = append([]LogEntry(nil), snap.Archive...)
}
