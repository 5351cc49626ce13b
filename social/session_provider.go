package social

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultSessionTTL     = 24 * time.Hour
	DefaultOTPTTL         = 10 * time.Minute
	DefaultOTPMaxAttempts = 5
	otpDigits             = 6
)

// Session is the result of a completed sign in.
type Session struct {
	Identity   *access.Identity `json:"identity"`
	Provider   string           `json:"provider"`
	ExpiresAt  time.Time        `json:"expires_at"`
	RedirectTo string           `json:"redirect_to,omitempty"`
}

// Option configures a SessionProvider
type Option func(*SessionProvider)

// WithProvider registers an OAuth provider under its Name.
func WithProvider(provider SocialProvider) Option {
	return func(sp *SessionProvider) {
		if provider != nil {
			sp.providers[provider.Name()] = provider
		}
	}
}

// WithStateManager replaces the state manager derived from the signing key.
func WithStateManager(sm StateManager) Option {
	return func(sp *SessionProvider) {
		if sm != nil {
			sp.states = sm
		}
	}
}

// WithSessionStore sets the token and challenge store. Defaults to memory.
func WithSessionStore(store SessionStore) Option {
	return func(sp *SessionProvider) {
		if store != nil {
			sp.store = store
		}
	}
}

// WithOTPSender sets how codes are delivered. Defaults to DisabledOTPSender.
func WithOTPSender(sender OTPSender) Option {
	return func(sp *SessionProvider) {
		if sender != nil {
			sp.sender = sender
		}
	}
}

// WithSessionTTL sets the lifetime of minted session tokens.
func WithSessionTTL(ttl time.Duration) Option {
	return func(sp *SessionProvider) {
		if ttl > 0 {
			sp.signer.ttl = ttl
		}
	}
}

// WithOTPPolicy sets the code lifetime and the attempt budget.
func WithOTPPolicy(ttl time.Duration, maxAttempts int) Option {
	return func(sp *SessionProvider) {
		if ttl > 0 {
			sp.otpTTL = ttl
		}
		if maxAttempts > 0 {
			sp.otpMaxAttempts = maxAttempts
		}
	}
}

// WithBcryptCost overrides the cost used to hash codes.
func WithBcryptCost(cost int) Option {
	return func(sp *SessionProvider) {
		sp.bcryptCost = cost
	}
}

// WithClock overrides time.Now for token and challenge expiry.
func WithClock(now func() time.Time) Option {
	return func(sp *SessionProvider) {
		if now != nil {
			sp.now = now
		}
	}
}

// WithLogger overrides the provider logger.
func WithLogger(logger access.Logger) Option {
	return func(sp *SessionProvider) {
		if logger != nil {
			sp.logger = logger
		}
	}
}

// SessionProvider is the access.AuthProvider for a single local client. It
// signs users in with OAuth or an emailed code and keeps the session as a
// signed token in a SessionStore.
type SessionProvider struct {
	providers      map[string]SocialProvider
	states         StateManager
	store          SessionStore
	sender         OTPSender
	signer         *tokenSigner
	otpTTL         time.Duration
	otpMaxAttempts int
	bcryptCost     int
	now            func() time.Time
	logger         access.Logger

	// otpLocks serializes challenge reads and writes per email.
	otpLocks keyedLocks

	mu        sync.Mutex
	listeners map[int]access.IdentityListener
	nextID    int
	current   *access.Identity
}

var _ access.AuthProvider = (*SessionProvider)(nil)

// NewSessionProvider creates a provider that signs tokens with signingKey.
func NewSessionProvider(signingKey []byte, opts ...Option) (*SessionProvider, error) {
	if len(signingKey) == 0 {
		return nil, goerrors.New("session signing key is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("SESSION_SIGNING_KEY_REQUIRED")
	}

	sp := &SessionProvider{
		providers:      make(map[string]SocialProvider),
		store:          NewMemoryStore(),
		signer:         &tokenSigner{key: signingKey, ttl: DefaultSessionTTL},
		otpTTL:         DefaultOTPTTL,
		otpMaxAttempts: DefaultOTPMaxAttempts,
		bcryptCost:     bcrypt.DefaultCost,
		now:            time.Now,
		listeners:      make(map[int]access.IdentityListener),
	}
	_, sp.logger = access.ResolveLogger("access.social", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(sp)
		}
	}

	sp.signer.now = sp.now
	if sp.states == nil {
		states := NewStateManagerFromSecret(string(signingKey), DefaultStateTTL)
		states.now = sp.now
		sp.states = states
	}
	if sp.sender == nil {
		sp.sender = DisabledOTPSender{}
	}

	return sp, nil
}

// Providers lists the registered OAuth provider names, sorted.
func (sp *SessionProvider) Providers() []string {
	names := make([]string, 0, len(sp.providers))
	for name := range sp.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IdentityFor returns the stable identity for email. OAuth and emailed code
// sign ins with the same address resolve to the same user id.
func IdentityFor(email string) *access.Identity {
	email = strings.ToLower(strings.TrimSpace(email))
	return &access.Identity{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(),
		Email: email,
	}
}

// GetSession returns the identity of the stored token. A missing or expired
// token is no session.
func (sp *SessionProvider) GetSession(ctx context.Context) (*access.Identity, error) {
	claims, err := sp.loadClaims(ctx)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, nil
	}

	identity := &access.Identity{ID: claims.Subject, Email: claims.Email}
	sp.mu.Lock()
	sp.current = identity.Clone()
	sp.mu.Unlock()
	return identity, nil
}

func (sp *SessionProvider) loadClaims(ctx context.Context) (*SessionClaims, error) {
	token, err := sp.store.LoadSession(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	claims, err := sp.signer.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			sp.logger.Info("session expired")
			_ = sp.store.ClearSession(ctx)
			return nil, nil
		}
		sp.logger.Warn("discarding invalid session token", "error", err)
		_ = sp.store.ClearSession(ctx)
		return nil, err
	}
	return claims, nil
}

// OnIdentityChange registers listener. Listeners run in registration order.
func (sp *SessionProvider) OnIdentityChange(listener access.IdentityListener) func() {
	if listener == nil {
		return func() {}
	}

	sp.mu.Lock()
	id := sp.nextID
	sp.nextID++
	sp.listeners[id] = listener
	sp.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sp.mu.Lock()
			delete(sp.listeners, id)
			sp.mu.Unlock()
		})
	}
}

func (sp *SessionProvider) emit(identity *access.Identity) {
	sp.mu.Lock()
	sp.current = identity.Clone()
	ids := make([]int, 0, len(sp.listeners))
	for id := range sp.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]access.IdentityListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, sp.listeners[id])
	}
	sp.mu.Unlock()

	for _, listener := range listeners {
		listener(identity.Clone())
	}
}

// SignInWithOAuth returns the authorization URL for provider. The state
// carries a PKCE verifier and redirectTo back to CompleteOAuth.
func (sp *SessionProvider) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	p, ok := sp.providers[provider]
	if !ok {
		return "", withCause(ErrProviderNotFound, nil, map[string]any{"provider": provider})
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code verifier")
	}

	state, err := sp.states.Encode(&OAuthState{
		Provider:     provider,
		CodeVerifier: verifier,
		RedirectTo:   redirectTo,
	})
	if err != nil {
		return "", err
	}

	return p.AuthCodeURL(state, WithPKCE(computeCodeChallenge(verifier), "S256"), WithPrompt("select_account")), nil
}

// CompleteOAuth finishes the provider callback and starts a session.
func (sp *SessionProvider) CompleteOAuth(ctx context.Context, provider, code, stateToken string) (*Session, error) {
	state, err := sp.states.Decode(stateToken)
	if err != nil {
		return nil, err
	}
	if state.Provider != provider {
		return nil, withCause(ErrInvalidState, nil, map[string]any{"reason": "provider mismatch"})
	}

	p, ok := sp.providers[provider]
	if !ok {
		return nil, withCause(ErrProviderNotFound, nil, map[string]any{"provider": provider})
	}

	token, err := p.Exchange(ctx, code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		return nil, withCause(ErrTokenExchangeFailed, err, map[string]any{"provider": provider})
	}

	profile, err := p.UserInfo(ctx, token)
	if err != nil {
		return nil, withCause(ErrUserInfoFailed, err, map[string]any{"provider": provider})
	}
	if profile == nil || strings.TrimSpace(profile.Email) == "" {
		return nil, withCause(ErrUserInfoFailed, nil, map[string]any{"provider": provider, "reason": "missing email"})
	}
	if !profile.EmailVerified {
		return nil, withCause(ErrEmailNotVerified, nil, map[string]any{"provider": provider})
	}

	session, err := sp.startSession(ctx, IdentityFor(profile.Email), provider)
	if err != nil {
		return nil, err
	}
	session.RedirectTo = state.RedirectTo
	return session, nil
}

// SendOTP emails a six digit sign in code to email.
func (sp *SessionProvider) SendOTP(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return withCause(ErrInvalidEmail, err, map[string]any{"email": email})
	}

	unlock := sp.otpLocks.lock(email)
	defer unlock()

	code, err := generateOTP()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), sp.bcryptCost)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash code")
	}

	challenge := OTPChallenge{
		Email:     email,
		CodeHash:  string(hash),
		ExpiresAt: sp.now().Add(sp.otpTTL),
	}
	if err := sp.store.SaveChallenge(ctx, challenge, sp.otpTTL); err != nil {
		return err
	}

	if err := sp.sender.SendOTP(ctx, email, code); err != nil {
		_ = sp.store.DeleteChallenge(ctx, email)
		if errors.Is(err, ErrOTPDeliveryUnavailable) {
			return err
		}
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver code").
			WithMetadata(map[string]any{"email": email})
	}
	return nil
}

// VerifyOTP checks code against the pending challenge for email and starts
// a session on success. Each wrong code spends one attempt. Calls for the same
// email are serialized so attempts are never lost and a code redeems once.
func (sp *SessionProvider) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	unlock := sp.otpLocks.lock(email)
	defer unlock()

	challenge, err := sp.store.LoadChallenge(ctx, email)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, ErrOTPInvalid
	}

	now := sp.now()
	if !now.Before(challenge.ExpiresAt) {
		_ = sp.store.DeleteChallenge(ctx, email)
		return nil, ErrOTPExpired
	}
	if challenge.Attempts >= sp.otpMaxAttempts {
		_ = sp.store.DeleteChallenge(ctx, email)
		return nil, ErrOTPTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(strings.TrimSpace(code))); err != nil {
		challenge.Attempts++
		if challenge.Attempts >= sp.otpMaxAttempts {
			_ = sp.store.DeleteChallenge(ctx, email)
			return nil, ErrOTPTooManyAttempts
		}
		if err := sp.store.SaveChallenge(ctx, *challenge, challenge.ExpiresAt.Sub(now)); err != nil {
			return nil, err
		}
		return nil, withCause(ErrOTPInvalid, nil, map[string]any{
			"remaining_attempts": sp.otpMaxAttempts - challenge.Attempts,
		})
	}

	if err := sp.store.DeleteChallenge(ctx, email); err != nil {
		return nil, err
	}
	return sp.startSession(ctx, IdentityFor(email), "email")
}

func (sp *SessionProvider) startSession(ctx context.Context, identity *access.Identity, provider string) (*Session, error) {
	token, claims, err := sp.signer.mint(identity.ID, identity.Email, provider)
	if err != nil {
		return nil, err
	}
	if err := sp.store.SaveSession(ctx, token, sp.signer.ttl); err != nil {
		return nil, err
	}

	sp.logger.Info("session started", "user_id", identity.ID, "provider", provider)
	sp.emit(identity)

	return &Session{
		Identity:  identity.Clone(),
		Provider:  provider,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SignOut clears the stored session and emits a nil identity.
func (sp *SessionProvider) SignOut(ctx context.Context) error {
	err := sp.store.ClearSession(ctx)
	sp.emit(nil)
	if err != nil {
		return err
	}
	sp.logger.Info("session cleared")
	return nil
}

// Refresh re-mints the stored token for the same identity and emits it.
// It returns nil without emitting when there is no live session.
func (sp *SessionProvider) Refresh(ctx context.Context) (*access.Identity, error) {
	claims, err := sp.loadClaims(ctx)
	if err != nil || claims == nil {
		return nil, err
	}

	token, _, err := sp.signer.mint(claims.Subject, claims.Email, claims.Provider)
	if err != nil {
		return nil, err
	}
	if err := sp.store.SaveSession(ctx, token, sp.signer.ttl); err != nil {
		return nil, err
	}

	identity := &access.Identity{ID: claims.Subject, Email: claims.Email}
	sp.emit(identity)
	return identity, nil
}

// Check re-validates the stored session. A session that disappeared or
// expired since the last emission emits nil. One close to expiry, within
// refreshWindow, is refreshed.
func (sp *SessionProvider) Check(ctx context.Context, refreshWindow time.Duration) error {
	claims, err := sp.loadClaims(ctx)

	sp.mu.Lock()
	signedIn := sp.current != nil
	sp.mu.Unlock()

	if err != nil || claims == nil {
		if signedIn {
			sp.emit(nil)
		}
		return err
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Sub(sp.now()) <= refreshWindow {
		_, err := sp.Refresh(ctx)
		return err
	}
	return nil
}

// Watch runs Check every interval until ctx is done. Tokens within two
// intervals of expiry are refreshed.
func (sp *SessionProvider) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sp.Check(ctx, 2*interval); err != nil {
				sp.logger.Warn("session check failed", "error", err)
			}
		}
	}
}

func generateOTP() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
