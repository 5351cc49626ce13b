package social

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// AccessMachine is the part of the access state machine the controller drives.
type AccessMachine interface {
	access.StateSource
	SignIn(ctx context.Context) (string, error)
	SignOut(ctx context.Context) error
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// PathPrefix for the auth routes (default: "/auth")
	PathPrefix string

	// LoginRoute serves the sign in page state (default: "/login")
	LoginRoute string

	// ErrorRedirect is where failed OAuth callbacks land
	ErrorRedirect string

	// SettleTimeout bounds how long a completed sign in waits for the profile
	// before picking the landing route (default: 5s)
	SettleTimeout time.Duration

	// ErrorHandler renders JSON errors (optional)
	ErrorHandler access.ErrorHandler

	Logger access.Logger
}

// HTTPController serves the sign in, callback, OTP and sign out routes.
type HTTPController struct {
	sessions *SessionProvider
	machine  AccessMachine
	guard    *access.RouteGuard
	config   HTTPConfig
}

// NewHTTPController creates the auth controller.
func NewHTTPController(sessions *SessionProvider, machine AccessMachine, guard *access.RouteGuard, cfg HTTPConfig) *HTTPController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth"
	}
	cfg.PathPrefix = "/" + strings.Trim(cfg.PathPrefix, "/")
	if cfg.LoginRoute == "" {
		cfg.LoginRoute = access.DefaultSignInRoute
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = cfg.LoginRoute + "?error=auth_failed"
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		_, cfg.Logger = access.ResolveLogger("access.social.http", nil, nil)
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = access.NewErrorHandler(cfg.Logger)
	}

	return &HTTPController{
		sessions: sessions,
		machine:  machine,
		guard:    guard,
		config:   cfg,
	}
}

// RegisterRoutes registers the auth routes.
func (c *HTTPController) RegisterRoutes(app access.RouteRegistrar) {
	p := c.config.PathPrefix

	app.Get(c.config.LoginRoute, c.LoginShow).SetName("auth.login")
	app.Get(p+"/providers", c.ListProviders).SetName("auth.providers")
	app.Get(p+"/state", c.StateShow).SetName("auth.state")
	app.Post(p+"/sign-in", c.SignIn).SetName("auth.sign-in")
	app.Get(p+"/callback/:provider", c.Callback).SetName("auth.callback")
	app.Post(p+"/otp", c.SendOTP).SetName("auth.otp")
	app.Post(p+"/otp/verify", c.VerifyOTP).SetName("auth.otp.verify")
	app.Post(p+"/sign-out", c.SignOut).SetName("auth.sign-out")
}

// LoginShow sends signed in users to their landing route and otherwise
// describes the available sign in methods.
func (c *HTTPController) LoginShow(ctx router.Context) error {
	state := c.machine.GetState()
	if state.Authenticated() {
		state = c.settle(ctx.Context())
		return ctx.Redirect(c.guard.LandingRoute(state), http.StatusSeeOther)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"state":               state,
		"providers":           c.sessions.Providers(),
		"otp":                 true,
		"dev_login_available": access.DevLoginAvailable,
	})
}

// ListProviders returns the registered OAuth providers.
func (c *HTTPController) ListProviders(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"providers": c.sessions.Providers(),
	})
}

// StateShow returns the current access state.
func (c *HTTPController) StateShow(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, c.machine.GetState())
}

// SignIn redirects to the configured OAuth provider.
func (c *HTTPController) SignIn(ctx router.Context) error {
	redirect, err := c.machine.SignIn(ctx.Context())
	if err != nil {
		return c.config.ErrorHandler(ctx, err)
	}
	return ctx.Redirect(redirect, http.StatusSeeOther)
}

// Callback completes the OAuth flow and redirects to the landing route.
func (c *HTTPController) Callback(ctx router.Context) error {
	providerName := ctx.Param("provider")
	code := ctx.Query("code", "")
	state := ctx.Query("state", "")

	if errCode := ctx.Query("error", ""); errCode != "" {
		redirectURL := appendQueryParam(c.config.ErrorRedirect, "oauth_error", errCode)
		if desc := ctx.Query("error_description", ""); desc != "" {
			redirectURL = appendQueryParam(redirectURL, "desc", desc)
		}
		return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
	}

	if code == "" || state == "" {
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", "missing_params"), http.StatusTemporaryRedirect)
	}

	session, err := c.sessions.CompleteOAuth(ctx.Context(), providerName, code, state)
	if err != nil {
		c.config.Logger.Warn("oauth callback failed", "provider", providerName, "error", err)
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", errorCode(err)), http.StatusTemporaryRedirect)
	}

	return ctx.Redirect(c.landing(ctx.Context(), session.RedirectTo), http.StatusTemporaryRedirect)
}

// OTPRequest asks for a one time code
type OTPRequest struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r OTPRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// OTPVerifyRequest carries the code the user received
type OTPVerifyRequest struct {
	Email string `form:"email" json:"email"`
	Code  string `form:"code" json:"code"`
}

// Validate will run validation rules
func (r OTPVerifyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Code, validation.Required, validation.Length(otpDigits, otpDigits), is.Digit),
	)
}

// SendOTP emails a sign in code.
func (c *HTTPController) SendOTP(ctx router.Context) error {
	payload := new(OTPRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.config.ErrorHandler(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return c.config.ErrorHandler(ctx, withCause(ErrInvalidEmail, err, nil))
	}

	if err := c.sessions.SendOTP(ctx.Context(), payload.Email); err != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"status": "sent",
		"email":  strings.ToLower(strings.TrimSpace(payload.Email)),
	})
}

// VerifyOTP signs the user in with an emailed code.
func (c *HTTPController) VerifyOTP(ctx router.Context) error {
	payload := new(OTPVerifyRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.config.ErrorHandler(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return c.config.ErrorHandler(ctx, withCause(ErrOTPInvalid, err, nil))
	}

	session, err := c.sessions.VerifyOTP(ctx.Context(), payload.Email, payload.Code)
	if err != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	state := c.settle(ctx.Context())
	return ctx.JSON(http.StatusOK, map[string]any{
		"session":     session,
		"state":       state,
		"redirect_to": c.guard.LandingRoute(state),
	})
}

// SignOut ends the session. The local state is guest even when the
// provider fails.
func (c *HTTPController) SignOut(ctx router.Context) error {
	if err := c.machine.SignOut(ctx.Context()); err != nil {
		return c.config.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"state":       c.machine.GetState(),
		"redirect_to": c.config.LoginRoute,
	})
}

func (c *HTTPController) bind(ctx router.Context, payload any) error {
	if err := ctx.Bind(payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request payload").
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

// settle waits for the profile fetch started by a sign in to finish.
func (c *HTTPController) settle(ctx context.Context) access.AccessState {
	waitCtx, cancel := context.WithTimeout(ctx, c.config.SettleTimeout)
	defer cancel()

	state, err := c.machine.WaitUntil(waitCtx, func(s access.AccessState) bool {
		return s.Settled()
	})
	if err != nil {
		c.config.Logger.Info("landing before profile settled", "error", err)
		return c.machine.GetState()
	}
	return state
}

// landing prefers a local redirect carried through the OAuth state. Auth
// routes and the login page fall back to the role landing route.
func (c *HTTPController) landing(ctx context.Context, redirectTo string) string {
	state := c.settle(ctx)
	if isLocalPath(redirectTo) &&
		redirectTo != c.config.LoginRoute &&
		!strings.HasPrefix(redirectTo, c.config.PathPrefix+"/") {
		return redirectTo
	}
	return c.guard.LandingRoute(state)
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//")
}

func errorCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return strings.ToLower(richErr.TextCode)
	}
	return "auth_failed"
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
