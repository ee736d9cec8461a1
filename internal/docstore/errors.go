package docstore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConcurrency matches any ConcurrencyError.
	ErrConcurrency = errors.New("document store contention")
	// ErrNotFound is returned for unknown, expired, or foreign documents.
	ErrNotFound = errors.New("document not found")
	// ErrInvalid is returned for documents missing an id or session id.
	ErrInvalid = errors.New("invalid document")
	// ErrSessionMismatch is returned when a put would move a document between sessions.
	ErrSessionMismatch = errors.New("document belongs to another session")
)

// ConcurrencyError reports that an exclusive section could not be acquired
// within the configured bound. Callers may retry.
type ConcurrencyError struct {
	ID        string
	Operation string
	Waited    time.Duration
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("document store: %s %s: exclusive section busy after %s", e.Operation, e.ID, e.Waited)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}
