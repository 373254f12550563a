package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCheckpointConflict is returned when a resume is requested for a
	// correlation id that has no usable checkpoint. Fatal for the
	// invocation; the caller must start a fresh run instead.
	ErrCheckpointConflict = errors.New("no checkpoint found for correlation id")
)

// ConfigError is a fatal configuration problem detected at load time,
// before any processing starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// ChainError reports the first point of divergence found while
// verifying the audit chain. Tampering is reported, never auto-repaired.
type ChainError struct {
	Index   int   // position in global insertion order, 0-based
	EntryID int64 // primary key of the first bad entry
	Reason  string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at index %d (entry %d): %s", e.Index, e.EntryID, e.Reason)
}
