package social

import (
	"context"
	"strings"

	"github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
)

const (
	OTPSenderDisabled = "disabled"
	OTPSenderLog      = "log"
)

// OTPSender delivers a one time code to email.
type OTPSender interface {
	SendOTP(ctx context.Context, email, code string) error
}

// OTPSenderFunc adapts a function to OTPSender.
type OTPSenderFunc func(ctx context.Context, email, code string) error

func (f OTPSenderFunc) SendOTP(ctx context.Context, email, code string) error {
	return f(ctx, email, code)
}

// DisabledOTPSender refuses every delivery.
type DisabledOTPSender struct{}

func (DisabledOTPSender) SendOTP(context.Context, string, string) error {
	return ErrOTPDeliveryUnavailable
}

// LogOTPSender writes codes to the logger at debug level. Local development only.
type LogOTPSender struct {
	Logger access.Logger
}

func (l LogOTPSender) SendOTP(_ context.Context, email, code string) error {
	if l.Logger != nil {
		l.Logger.Debug("one time code issued", "email", email, "code", code)
	}
	return nil
}

// NewOTPSender resolves the configured delivery. The log sender prints live
// codes so it is refused unless allowLog is set.
func NewOTPSender(kind string, logger access.Logger, allowLog bool) (OTPSender, error) {
	_, logger = access.ResolveLogger("access.social", nil, logger)

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", OTPSenderDisabled:
		logger.Warn("no one time code delivery configured, email sign in disabled")
		return DisabledOTPSender{}, nil

	case OTPSenderLog:
		if !allowLog {
			return nil, goerrors.New("the log code sender requires verbose mode", goerrors.CategoryValidation).
				WithTextCode("OTP_SENDER_NOT_ALLOWED").
				WithMetadata(map[string]any{"sender": kind})
		}
		logger.Warn("ONE TIME CODES ARE WRITTEN TO THE LOG, do not use outside development")
		return LogOTPSender{Logger: logger}, nil

	default:
		return nil, goerrors.New("unknown code sender", goerrors.CategoryValidation).
			WithTextCode("OTP_SENDER_UNKNOWN").
			WithMetadata(map[string]any{"sender": kind})
	}
}
