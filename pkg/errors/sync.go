package errors

import (
	"errors"
	"fmt"
)

// Category classifies a sync failure.
type Category string

const (
	// CategoryAuthorization means credentials are invalid or expired. The run aborts.
	CategoryAuthorization Category = "authorization"
	// CategoryTransient means a fetch failed after retries; the chunk is marked failed.
	CategoryTransient Category = "transient"
	// CategoryPermanent means the request or event can never succeed; it is skipped.
	CategoryPermanent Category = "permanent"
	// CategoryPersistence means a batch transaction was rolled back.
	CategoryPersistence Category = "persistence"
)

// SyncError is a categorized failure raised by the calendar client, the store
// or the sync driver.
type SyncError struct {
	Category Category
	Op       string
	Message  string
	// StatusCode is the upstream HTTP status when known.
	StatusCode int
	Cause      error
}

func (e *SyncError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Category, e.Op, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Category, msg)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether retrying the same call may succeed.
func (e *SyncError) Retryable() bool {
	return IsRetryable(codeFor(e.Category))
}

// NewAuthorizationError wraps cause as an authorization failure.
func NewAuthorizationError(op, message string, cause error) *SyncError {
	return &SyncError{Category: CategoryAuthorization, Op: op, Message: message, Cause: cause}
}

// NewTransientFetchError wraps cause as a recoverable fetch failure.
func NewTransientFetchError(op, message string, cause error) *SyncError {
	return &SyncError{Category: CategoryTransient, Op: op, Message: message, Cause: cause}
}

// NewPermanentFetchError wraps cause as a fetch failure that retrying will not fix.
func NewPermanentFetchError(op, message string, cause error) *SyncError {
	return &SyncError{Category: CategoryPermanent, Op: op, Message: message, Cause: cause}
}

// NewPersistenceError wraps cause as a rolled-back batch write.
func NewPersistenceError(op, message string, cause error) *SyncError {
	return &SyncError{Category: CategoryPersistence, Op: op, Message: message, Cause: cause}
}

// CategoryOf returns the category of the first *SyncError in err's chain.
func CategoryOf(err error) (Category, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Category, true
	}
	return "", false
}

func isCategory(err error, c Category) bool {
	got, ok := CategoryOf(err)
	return ok && got == c
}

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool {
	return isCategory(err, CategoryAuthorization)
}

// IsTransient reports whether err is a transient fetch failure.
func IsTransient(err error) bool {
	return isCategory(err, CategoryTransient)
}

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	return isCategory(err, CategoryPermanent)
}

// IsPersistence reports whether err is a persistence failure.
func IsPersistence(err error) bool {
	return isCategory(err, CategoryPersistence)
}
