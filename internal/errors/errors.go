// Package errors consolidates the error taxonomy for the memindex engine:
// sentinel errors for every engine error condition plus the category checks
// callers branch on (transient write failures, corrupt persisted state).
package errors

import (
	"errors"
	"fmt"
	"syscall"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Lifecycle errors
	ErrStoreClosed  = errors.New("store is closed")
	ErrWriterClosed = errors.New("journal writer is closed")

	// Durability errors
	ErrRetryExhausted = errors.New("write retries exhausted")

	// Persisted-state errors (soft: affected structure is reset or the
	// offending record skipped, never fatal to the whole engine)
	ErrCorruptRecord   = errors.New("corrupt journal record")
	ErrCorruptSnapshot = errors.New("corrupt index snapshot")
	ErrCorruptSeqState = errors.New("corrupt sequence state")

	// Lookup errors
	ErrNotFound      = errors.New("event not found")
	ErrUnknownSource = errors.New("unknown event source")
	ErrUnknownType   = errors.New("unknown event type")
	ErrUnknownTier   = errors.New("unknown retention tier")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidRange  = errors.New("invalid time range")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// ============================================================================
// Category helpers
// ============================================================================

// IsTransient reports whether err is a condition worth retrying with
// backoff: busy handles, descriptor exhaustion, would-block, interrupts,
// and timeouts. Anything else fails the record immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EBUSY, syscall.EINTR,
			syscall.EMFILE, syscall.ENFILE:
			return true
		}
	}

	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// IsCorrupt reports whether err indicates corrupt persisted state. Corrupt
// state is soft-failed: the structure is reset to empty or recomputed from
// the journal.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptRecord) ||
		errors.Is(err, ErrCorruptSnapshot) ||
		errors.Is(err, ErrCorruptSeqState)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}
