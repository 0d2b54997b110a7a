package errors

// ErrorCode identifies a failure class surfaced to operators.
type ErrorCode string

const (
	CodeAuthorization ErrorCode = "authorization"
	CodeTransient     ErrorCode = "transient_fetch"
	CodePermanent     ErrorCode = "permanent_fetch"
	CodePersistence   ErrorCode = "persistence"
	CodeConfig        ErrorCode = "config"
	CodeUnknown       ErrorCode = "unknown"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitAuthorization = 2
)

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeAuthorization: {
		Code:            CodeAuthorization,
		Retryable:       false,
		Description:     "Calendar credentials are invalid, expired or lack delegation",
		SuggestedAction: "Refresh the credentials referenced by calendar.credentials_file and rerun",
	},
	CodeTransient: {
		Code:            CodeTransient,
		Retryable:       true,
		Description:     "Calendar API rate limit, timeout or server error",
		SuggestedAction: "The next scheduled sync retries the failed range",
	},
	CodePermanent: {
		Code:            CodePermanent,
		Retryable:       false,
		Description:     "Calendar API rejected the request or returned unusable data",
		SuggestedAction: "Check calendar.calendar_id and the user list: calinsight config show",
	},
	CodePersistence: {
		Code:            CodePersistence,
		Retryable:       true,
		Description:     "A batch transaction was rolled back",
		SuggestedAction: "Check database health: calinsight db status",
	},
	CodeConfig: {
		Code:            CodeConfig,
		Retryable:       false,
		Description:     "Configuration is missing or invalid",
		SuggestedAction: "Inspect the effective configuration: calinsight config show",
	},
	CodeUnknown: {
		Code:            CodeUnknown,
		Retryable:       false,
		Description:     "Unclassified failure",
		SuggestedAction: "Rerun with --debug for details",
	},
}

func codeFor(c Category) ErrorCode {
	switch c {
	case CategoryAuthorization:
		return CodeAuthorization
	case CategoryTransient:
		return CodeTransient
	case CategoryPermanent:
		return CodePermanent
	case CategoryPersistence:
		return CodePersistence
	default:
		return CodeUnknown
	}
}

// CodeOf classifies err into an ErrorCode.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if c, ok := CategoryOf(err); ok {
		return codeFor(c)
	}
	if IsConfig(err) || IsValidation(err) {
		return CodeConfig
	}
	return CodeUnknown
}

// IsRetryable returns whether errors with the given code are retryable.
func IsRetryable(code ErrorCode) bool {
	return ErrorCodeRegistry[code].Retryable
}

// GetSuggestedAction returns the suggested action for an error code.
func GetSuggestedAction(code ErrorCode) string {
	return ErrorCodeRegistry[code].SuggestedAction
}

// ExitCode maps an error returned from a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if IsAuthorization(err) {
		return ExitAuthorization
	}
	return ExitFailure
}
