// Package errors provides the error taxonomy shared by calinsight packages.
//
// Sentinel errors describe domain conditions checked with errors.Is. Sync
// failures are reported as *SyncError values carrying a Category, which the
// sync driver uses to decide whether to abort, retry, or skip and continue.
//
// Usage:
//
//	import cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
//
//	if cierrors.IsAuthorization(err) {
//	    // abort the run
//	}
package errors

import "errors"

// Domain errors.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrConfig indicates missing or invalid configuration.
	ErrConfig = errors.New("invalid configuration")

	// ErrUnavailable indicates an optional backend (cache, assistant, directory) is not configured.
	ErrUnavailable = errors.New("unavailable")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConfig reports whether any error in err's chain is ErrConfig.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsUnavailable reports whether any error in err's chain is ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
