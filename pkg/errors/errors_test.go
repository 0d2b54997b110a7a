package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrNotFound, true},
		{"wrapped once", fmt.Errorf("get user: %w", ErrNotFound), true},
		{"wrapped twice", fmt.Errorf("lookup: %w", fmt.Errorf("repo: %w", ErrNotFound)), true},
		{"different error", ErrValidation, false},
		{"nil error", nil, false},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSentinelHelpers(t *testing.T) {
	if !IsValidation(fmt.Errorf("bad flag: %w", ErrValidation)) {
		t.Error("expected IsValidation on wrapped ErrValidation")
	}
	if !IsConfig(fmt.Errorf("database.url: %w", ErrConfig)) {
		t.Error("expected IsConfig on wrapped ErrConfig")
	}
	if !IsUnavailable(ErrUnavailable) {
		t.Error("expected IsUnavailable")
	}
	if IsConfig(ErrNotFound) {
		t.Error("sentinels must be distinct")
	}
}

func TestSyncErrorCategories(t *testing.T) {
	cause := errors.New("googleapi: Error 401")
	tests := []struct {
		name      string
		err       error
		category  Category
		retryable bool
	}{
		{"authorization", NewAuthorizationError("events.list", "token rejected", cause), CategoryAuthorization, false},
		{"transient", NewTransientFetchError("events.list", "", cause), CategoryTransient, true},
		{"permanent", NewPermanentFetchError("events.list", "bad request", cause), CategoryPermanent, false},
		{"persistence", NewPersistenceError("upsert", "rollback", cause), CategoryPersistence, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("chunk 3: %w", tt.err)
			got, ok := CategoryOf(wrapped)
			if !ok || got != tt.category {
				t.Fatalf("CategoryOf() = %q, %v; want %q", got, ok, tt.category)
			}
			var se *SyncError
			if !errors.As(wrapped, &se) {
				t.Fatal("expected *SyncError in chain")
			}
			if se.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", se.Retryable(), tt.retryable)
			}
			if !errors.Is(wrapped, cause) {
				t.Error("expected cause to be reachable through Unwrap")
			}
		})
	}
}

func TestCategoryPredicates(t *testing.T) {
	auth := NewAuthorizationError("", "expired", nil)
	if !IsAuthorization(auth) || IsTransient(auth) || IsPermanent(auth) || IsPersistence(auth) {
		t.Error("authorization error misclassified")
	}
	if IsAuthorization(errors.New("plain")) {
		t.Error("plain error must not be categorized")
	}
	if IsAuthorization(nil) {
		t.Error("nil must not be categorized")
	}
}

func TestSyncError_Error(t *testing.T) {
	err := NewTransientFetchError("events.list", "retries exhausted", errors.New("503"))
	want := "transient error: events.list: retries exhausted: 503"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &SyncError{Category: CategoryPermanent, Cause: errors.New("404")}
	if bare.Error() != "permanent error: 404" {
		t.Errorf("unexpected message %q", bare.Error())
	}
}

func TestCodeOfAndExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		exit int
	}{
		{"nil", nil, "", ExitOK},
		{"authorization", NewAuthorizationError("", "", nil), CodeAuthorization, ExitAuthorization},
		{"transient", NewTransientFetchError("", "x", nil), CodeTransient, ExitFailure},
		{"config", fmt.Errorf("load: %w", ErrConfig), CodeConfig, ExitFailure},
		{"unknown", errors.New("boom"), CodeUnknown, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("CodeOf() = %q, want %q", got, tt.code)
			}
			if got := ExitCode(tt.err); got != tt.exit {
				t.Errorf("ExitCode() = %d, want %d", got, tt.exit)
			}
		})
	}
}

func TestErrorCodeRegistry_Completeness(t *testing.T) {
	for _, code := range []ErrorCode{CodeAuthorization, CodeTransient, CodePermanent, CodePersistence, CodeConfig, CodeUnknown} {
		info, ok := ErrorCodeRegistry[code]
		if !ok {
			t.Errorf("code %q missing from registry", code)
			continue
		}
		if info.Code != code {
			t.Errorf("registry entry for %q has code %q", code, info.Code)
		}
		if GetSuggestedAction(code) == "" {
			t.Errorf("code %q has no suggested action", code)
		}
	}
	if !IsRetryable(CodeTransient) || IsRetryable(CodeAuthorization) {
		t.Error("unexpected retryable flags")
	}
}
