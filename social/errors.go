package social

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeProviderNotFound  = "SOCIAL_PROVIDER_NOT_FOUND"
	TextCodeInvalidState      = "SOCIAL_INVALID_STATE"
	TextCodeStateExpired      = "SOCIAL_STATE_EXPIRED"
	TextCodeTokenExchangeFail = "SOCIAL_TOKEN_EXCHANGE_FAILED"
	TextCodeUserInfoFail      = "SOCIAL_USER_INFO_FAILED"
	TextCodeEmailNotVerified  = "SOCIAL_EMAIL_NOT_VERIFIED"
	TextCodeInvalidEmail      = "OTP_INVALID_EMAIL"
	TextCodeOTPInvalid        = "OTP_INVALID"
	TextCodeOTPExpired        = "OTP_EXPIRED"
	TextCodeOTPLocked         = "OTP_TOO_MANY_ATTEMPTS"
	TextCodeOTPDelivery       = "OTP_DELIVERY_UNAVAILABLE"
	TextCodeSessionInvalid    = "SESSION_INVALID"
	TextCodeSessionStore      = "SESSION_STORE_FAILED"
)

// ErrProviderNotFound is returned when a requested provider is not configured.
var ErrProviderNotFound = goerrors.New("social provider not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProviderNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidState is returned when the OAuth state is invalid or tampered.
var ErrInvalidState = goerrors.New("invalid oauth state", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(goerrors.CodeBadRequest)

// ErrStateExpired is returned when the OAuth state has expired.
var ErrStateExpired = goerrors.New("oauth state expired", goerrors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExchangeFailed is returned when a provider token exchange fails.
var ErrTokenExchangeFailed = goerrors.New("token exchange failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExchangeFail).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserInfoFailed is returned when fetching user info fails.
var ErrUserInfoFailed = goerrors.New("failed to fetch user info", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserInfoFail).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailNotVerified is returned when a provider email is not verified.
var ErrEmailNotVerified = goerrors.New("email not verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidEmail is returned when an OTP is requested for a malformed address.
var ErrInvalidEmail = goerrors.New("a valid email address is required", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrOTPInvalid is returned for a wrong or unknown one time code.
var ErrOTPInvalid = goerrors.New("invalid verification code", goerrors.CategoryAuth).
	WithTextCode(TextCodeOTPInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrOTPExpired is returned when the one time code is past its TTL.
var ErrOTPExpired = goerrors.New("verification code expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeOTPExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrOTPTooManyAttempts is returned once the attempt budget is spent.
var ErrOTPTooManyAttempts = goerrors.New("too many verification attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeOTPLocked).
	WithCode(http.StatusTooManyRequests)

// ErrOTPDeliveryUnavailable is returned when no code delivery is configured.
var ErrOTPDeliveryUnavailable = goerrors.New("email sign in is not available", goerrors.CategoryOperation).
	WithTextCode(TextCodeOTPDelivery).
	WithCode(http.StatusServiceUnavailable)

// ErrSessionInvalid is returned when a stored session token fails validation.
var ErrSessionInvalid = goerrors.New("session token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionStore is returned when the session store cannot be reached.
var ErrSessionStore = goerrors.New("session store failure", goerrors.CategoryInternal).
	WithTextCode(TextCodeSessionStore).
	WithCode(goerrors.CodeInternal)

// ProviderError carries a provider's normalized error response.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := e.Provider
	if e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the non empty fields for error metadata.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// withCause clones base so errors.Is matches it. err lands in the metadata.
func withCause(base *goerrors.Error, err error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	clone.Source = base

	if meta == nil {
		meta = map[string]any{}
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
	} else if err != nil {
		meta["cause"] = err.Error()
	}

	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
