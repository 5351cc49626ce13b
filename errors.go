package access

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeAlreadyStarted      = "ACCESS_ALREADY_STARTED"
	TextCodeClosed              = "ACCESS_CLOSED"
	TextCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	TextCodeProfileFetchTimeout = "PROFILE_FETCH_TIMEOUT"
	TextCodeProfileFetchPanic   = "PROFILE_FETCH_PANIC"
	TextCodeSessionUnavailable  = "SESSION_UNAVAILABLE"
	TextCodeSignInFailed        = "SIGN_IN_FAILED"
	TextCodeSignOutFailed       = "SIGN_OUT_FAILED"
	TextCodeRecipeNotFound      = "RECIPE_NOT_FOUND"
	TextCodeInvalidRecipe       = "INVALID_RECIPE"
	TextCodeInvalidConfig       = "INVALID_ACCESS_CONFIG"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = goerrors.New("access state machine already started", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyStarted).
	WithCode(goerrors.CodeConflict)

// ErrClosed is returned by operations on a closed state machine.
var ErrClosed = goerrors.New("access state machine closed", goerrors.CategoryConflict).
	WithTextCode(TextCodeClosed).
	WithCode(goerrors.CodeConflict)

// ErrProfileNotFound is returned by profile stores for unknown ids.
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrProfileFetchTimeout is recorded when the profile query loses the race
// against the timeout.
var ErrProfileFetchTimeout = goerrors.New("profile fetch timed out", goerrors.CategoryOperation).
	WithTextCode(TextCodeProfileFetchTimeout).
	WithCode(goerrors.CodeInternal)

// ErrProfileFetchPanic is recorded when the profile store panicked.
var ErrProfileFetchPanic = goerrors.New("profile fetch panicked", goerrors.CategoryInternal).
	WithTextCode(TextCodeProfileFetchPanic).
	WithCode(goerrors.CodeInternal)

// ErrSessionUnavailable is recorded when the initial session check fails.
var ErrSessionUnavailable = goerrors.New("session unavailable", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionUnavailable).
	WithCode(goerrors.CodeUnauthorized)

// ErrSignInFailed is surfaced to the user when the provider rejects sign in.
var ErrSignInFailed = goerrors.New("sign in failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeSignInFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrSignOutFailed is surfaced to the user when the provider sign out fails.
// Local state is already guest when this is returned.
var ErrSignOutFailed = goerrors.New("sign out failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeSignOutFailed).
	WithCode(goerrors.CodeInternal)

// ErrRecipeNotFound is returned for unknown recipe ids.
var ErrRecipeNotFound = goerrors.New("recipe not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRecipeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidRecipe is returned when a recipe fails validation.
var ErrInvalidRecipe = goerrors.New("invalid recipe", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRecipe).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidConfig is returned when options fail validation.
var ErrInvalidConfig = goerrors.New("invalid access configuration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

// sentinelWithCause clones a sentinel so callers can attach metadata without
// mutating the shared value. errors.Is against the sentinel keeps working.
func sentinelWithCause(sentinel *goerrors.Error, cause error, metadata map[string]any) *goerrors.Error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel

	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	if cause != nil {
		md["cause"] = cause.Error()
	}
	if len(md) == 0 {
		return clone
	}
	return clone.WithMetadata(md)
}

// AsRichError converts err into a *goerrors.Error, wrapping unknown errors as
// internal failures.
func AsRichError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected error occurred").
		WithCode(goerrors.CodeInternal)
}
