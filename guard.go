package access

import (
	"context"
	"net/http"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// Capability is what a destination requires from the AccessState.
type Capability string

const (
	CapabilityNone          Capability = "none"
	CapabilityAuthenticated Capability = "authenticated"
	CapabilityAdmin         Capability = "authenticated+admin"
	// CapabilityContent admits everyone, but a signed in user waits for the
	// profile since what they see depends on the role.
	CapabilityContent Capability = "content"
)

// Outcome of a guard evaluation
type Outcome string

const (
	OutcomeAdmit    Outcome = "admit"
	OutcomeWait     Outcome = "wait"
	OutcomeRedirect Outcome = "redirect"
)

const (
	ReasonSessionLoading    = "session_loading"
	ReasonProfileLoading    = "profile_loading"
	ReasonUnauthenticated   = "unauthenticated"
	ReasonNotAdmin          = "not_admin"
	ReasonAdmitted          = "admitted"
	ReasonUnknownCapability = "unknown_capability"
)

// Decision is the guard verdict for one navigation.
type Decision struct {
	Outcome    Outcome `json:"outcome"`
	RedirectTo string  `json:"redirect_to,omitempty"`
	Reason     string  `json:"reason"`
}

// Evaluate is the pure guard rule set. Admin and content destinations wait
// for the profile of a signed in user, other destinations only wait for the
// session.
func Evaluate(capability Capability, state AccessState, signInRoute, defaultRoute string) Decision {
	if state.SessionLoading {
		return Decision{Outcome: OutcomeWait, Reason: ReasonSessionLoading}
	}

	switch capability {
	case CapabilityNone:
		return Decision{Outcome: OutcomeAdmit, Reason: ReasonAdmitted}
	case CapabilityContent:
		if state.Identity != nil && state.ProfileLoading {
			return Decision{Outcome: OutcomeWait, Reason: ReasonProfileLoading}
		}
		return Decision{Outcome: OutcomeAdmit, Reason: ReasonAdmitted}
	case CapabilityAuthenticated, CapabilityAdmin:
	default:
		return Decision{Outcome: OutcomeRedirect, RedirectTo: signInRoute, Reason: ReasonUnknownCapability}
	}

	if state.Identity == nil {
		return Decision{Outcome: OutcomeRedirect, RedirectTo: signInRoute, Reason: ReasonUnauthenticated}
	}

	if capability == CapabilityAdmin {
		if state.ProfileLoading {
			return Decision{Outcome: OutcomeWait, Reason: ReasonProfileLoading}
		}
		if !state.Role.IsAdmin() {
			return Decision{Outcome: OutcomeRedirect, RedirectTo: defaultRoute, Reason: ReasonNotAdmin}
		}
	}

	return Decision{Outcome: OutcomeAdmit, Reason: ReasonAdmitted}
}

// GuardOption customizes the RouteGuard
type GuardOption func(*RouteGuard)

// WithGuardWait makes Protect block up to d for a Wait decision to resolve
// before answering with the interstitial.
func WithGuardWait(d time.Duration) GuardOption {
	return func(g *RouteGuard) {
		if d >= 0 {
			g.wait = d
		}
	}
}

// WithGuardRetryAfter sets the Retry-After seconds sent with the interstitial.
func WithGuardRetryAfter(seconds int) GuardOption {
	return func(g *RouteGuard) {
		if seconds > 0 {
			g.retryAfter = seconds
		}
	}
}

// WithGuardLogger overrides the guard logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *RouteGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardActivitySink records denied navigations.
func WithGuardActivitySink(sink ActivitySink) GuardOption {
	return func(g *RouteGuard) {
		g.activitySink = normalizeActivitySink(sink)
	}
}

// RouteGuard enforces capabilities against a StateSource.
type RouteGuard struct {
	source       StateSource
	signInRoute  string
	defaultRoute string
	adminRoute   string
	wait         time.Duration
	retryAfter   int
	logger       Logger
	activitySink ActivitySink
}

// NewRouteGuard creates a guard reading from source.
func NewRouteGuard(source StateSource, cfg Config, opts ...GuardOption) *RouteGuard {
	g := &RouteGuard{
		source:       source,
		signInRoute:  DefaultSignInRoute,
		defaultRoute: DefaultHomeRoute,
		adminRoute:   DefaultAdminRoute,
		retryAfter:   1,
		activitySink: noopActivitySink{},
	}
	_, g.logger = ResolveLogger("access.guard", nil, nil)

	if cfg != nil {
		g.signInRoute = cfg.GetSignInRoute()
		g.defaultRoute = cfg.GetDefaultRoute()
		g.adminRoute = cfg.GetAdminRoute()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Evaluate applies the guard rules to state using the configured routes.
func (g *RouteGuard) Evaluate(capability Capability, state AccessState) Decision {
	return Evaluate(capability, state, g.signInRoute, g.defaultRoute)
}

// Decide evaluates against the current state.
func (g *RouteGuard) Decide(capability Capability) (Decision, AccessState) {
	state := g.source.GetState()
	return g.Evaluate(capability, state), state
}

// WaitForDecision re-evaluates on every state change until the outcome is
// not Wait or ctx is done.
func (g *RouteGuard) WaitForDecision(ctx context.Context, capability Capability) (Decision, AccessState, error) {
	state, err := g.source.WaitUntil(ctx, func(s AccessState) bool {
		return g.Evaluate(capability, s).Outcome != OutcomeWait
	})
	return g.Evaluate(capability, state), state, err
}

// LandingRoute is where a user goes right after signing in.
func (g *RouteGuard) LandingRoute(state AccessState) string {
	switch {
	case state.Identity == nil:
		return g.signInRoute
	case state.Role.IsAdmin():
		return g.adminRoute
	default:
		return g.defaultRoute
	}
}

// Protect returns middleware enforcing capability. Wait decisions answer 202
// with the decision as JSON and a Retry-After header, unless the state
// resolves within the configured guard wait.
func (g *RouteGuard) Protect(capability Capability) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			decision, state := g.Decide(capability)

			if decision.Outcome == OutcomeWait && g.wait > 0 {
				waitCtx, cancel := context.WithTimeout(ctx.Context(), g.wait)
				decision, state, _ = g.WaitForDecision(waitCtx, capability)
				cancel()
			}

			switch decision.Outcome {
			case OutcomeWait:
				return g.Interstitial(ctx, decision)

			case OutcomeRedirect:
				g.logger.Info("navigation redirected",
					"capability", capability,
					"path", ctx.Path(),
					"redirect", decision.RedirectTo,
					"reason", decision.Reason,
				)
				recordActivity(ctx.Context(), g.activitySink, g.logger, nil, ActivityEvent{
					EventType: ActivityEventNavigationDenied,
					UserID:    state.UserID(),
					Email:     state.Email(),
					ToRole:    state.Role,
					Metadata: map[string]any{
						"capability": string(capability),
						"reason":     decision.Reason,
						"path":       ctx.Path(),
					},
				})
				return ctx.Redirect(decision.RedirectTo, http.StatusSeeOther)

			default:
				ctx.Locals(StateLocalsKey, state)
				ctx.SetContext(WithStateContext(ctx.Context(), state))
				return next(ctx)
			}
		}
	}
}

// Interstitial answers 202 with the decision and a Retry-After header.
func (g *RouteGuard) Interstitial(ctx router.Context, decision Decision) error {
	ctx.SetHeader("Retry-After", strconv.Itoa(g.retryAfter))
	return ctx.JSON(http.StatusAccepted, decision)
}

// RequireDecision converts a non admitting decision into an error. Useful for
// callers outside of the HTTP stack.
func RequireDecision(decision Decision) error {
	switch decision.Outcome {
	case OutcomeAdmit:
		return nil
	case OutcomeWait:
		return goerrors.New("access state still loading", goerrors.CategoryOperation).
			WithTextCode("ACCESS_LOADING").
			WithCode(http.StatusAccepted).
			WithMetadata(map[string]any{"reason": decision.Reason})
	default:
		category := goerrors.CategoryAuth
		code := goerrors.CodeUnauthorized
		if decision.Reason == ReasonNotAdmin {
			category = goerrors.CategoryAuthz
			code = goerrors.CodeForbidden
		}
		return goerrors.New("navigation not allowed", category).
			WithTextCode("ACCESS_DENIED").
			WithCode(code).
			WithMetadata(map[string]any{
				"reason":      decision.Reason,
				"redirect_to": decision.RedirectTo,
			})
	}
}
