package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl append)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// BatchReport records the final accounting of one terminated batch.
// Keep it compact and schema-stable.
type BatchReport struct {
	At         time.Time // when the batch terminated
	BatchID    string
	CreatedBy  string
	Source     string
	DryRun     bool
	State      string // completed | cancelled | failed
	Total      int
	Sent       int
	Failed     int
	StartedAt  time.Time
	DurationMS int64
}
