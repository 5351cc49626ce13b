package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultProfileTimeout bounds how long a profile query may run before the
// machine falls back to the default role.
const DefaultProfileTimeout = 15 * time.Second

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*StateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *StateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithProfileTimer replaces time.After for the profile fetch race.
func WithProfileTimer(after func(time.Duration) <-chan time.Time) StateMachineOption {
	return func(sm *StateMachine) {
		if after != nil {
			sm.after = after
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish access events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *StateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *StateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineLoggerProvider resolves the logger from provider.
func WithStateMachineLoggerProvider(provider LoggerProvider) StateMachineOption {
	return func(sm *StateMachine) {
		if provider != nil {
			_, sm.logger = ResolveLogger("access.state_machine", provider, nil)
		}
	}
}

// StateMachine owns the AccessState. It composes the session reported by the
// AuthProvider with the profile fetched from the ProfileStore and republishes
// the result to subscribers.
//
// Listeners run synchronously in transition order while the machine holds its
// dispatch lock. They may read state and subscribe, but must not call
// SignOut, Start or Close from the same goroutine.
type StateMachine struct {
	provider       AuthProvider
	profiles       ProfileStore
	privileged     PrivilegedSet
	profileTimeout time.Duration
	oauthProvider  string
	redirectTo     string

	now          func() time.Time
	after        func(time.Duration) <-chan time.Time
	activitySink ActivitySink
	logger       Logger

	dispatchMu sync.Mutex
	mu         sync.RWMutex

	state           AccessState
	generation      uint64
	sessionSettled  bool
	identityEvented bool
	started         bool
	closed          bool

	listeners      map[uint64]Listener
	nextListenerID uint64

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	fetches     sync.WaitGroup
}

var _ StateSource = (*StateMachine)(nil)

// NewStateMachine returns a machine in its initial state. Call Start to
// resolve the session.
func NewStateMachine(provider AuthProvider, profiles ProfileStore, cfg Config, opts ...StateMachineOption) *StateMachine {
	ctx, cancel := context.WithCancel(context.Background())

	sm := &StateMachine{
		provider:       provider,
		profiles:       profiles,
		profileTimeout: DefaultProfileTimeout,
		now:            time.Now,
		after:          time.After,
		activitySink:   noopActivitySink{},
		state:          InitialState(),
		listeners:      map[uint64]Listener{},
		ctx:            ctx,
		cancel:         cancel,
	}
	_, sm.logger = ResolveLogger("access.state_machine", nil, nil)

	if cfg != nil {
		sm.privileged = NewPrivilegedSet(cfg.GetPrivilegedEmails()...)
		if timeout := cfg.GetProfileTimeout(); timeout > 0 {
			sm.profileTimeout = timeout
		}
		sm.oauthProvider = cfg.GetOAuthProvider()
		sm.redirectTo = cfg.GetOAuthRedirectURL()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// Start subscribes to identity changes and resolves the current session.
// It returns once the session check settled; the profile is fetched in the
// background. Session failures degrade to guest and are not returned.
func (sm *StateMachine) Start(ctx context.Context) error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return ErrClosed
	}
	if sm.started {
		sm.mu.Unlock()
		return ErrAlreadyStarted
	}
	sm.started = true
	sm.mu.Unlock()

	if sm.provider == nil {
		sm.logger.Warn("no auth provider configured, resolving as guest")
		sm.settleSession(nil, nil)
		return nil
	}

	unsubscribe := sm.provider.OnIdentityChange(sm.handleIdentityChange)

	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return ErrClosed
	}
	sm.unsubscribe = unsubscribe
	sm.mu.Unlock()

	identity, err := sm.getSession(ctx)
	sm.settleSession(identity, err)
	return nil
}

// GetState returns a snapshot of the current state.
func (sm *StateMachine) GetState() AccessState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Clone()
}

// Subscribe registers listener for every subsequent state change. The
// listener is not called with the current state.
func (sm *StateMachine) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	sm.mu.Lock()
	id := sm.nextListenerID
	sm.nextListenerID++
	sm.listeners[id] = listener
	sm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sm.mu.Lock()
			delete(sm.listeners, id)
			sm.mu.Unlock()
		})
	}
}

// WaitUntil blocks until cond holds for the current state or ctx is done.
func (sm *StateMachine) WaitUntil(ctx context.Context, cond func(AccessState) bool) (AccessState, error) {
	if cond == nil {
		return sm.GetState(), nil
	}

	matched := make(chan AccessState, 1)
	var once sync.Once
	unsubscribe := sm.Subscribe(func(state AccessState) {
		if cond(state) {
			once.Do(func() { matched <- state })
		}
	})
	defer unsubscribe()

	if state := sm.GetState(); cond(state) {
		return state, nil
	}

	select {
	case state := <-matched:
		return state, nil
	case <-ctx.Done():
		return sm.GetState(), goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "wait for access state cancelled")
	case <-sm.ctx.Done():
		return sm.GetState(), ErrClosed
	}
}

// SignIn asks the provider for the OAuth redirect URL. Navigation is left to
// the caller.
func (sm *StateMachine) SignIn(ctx context.Context) (string, error) {
	if sm.isClosed() {
		return "", ErrClosed
	}
	if sm.provider == nil {
		return "", sentinelWithCause(ErrSignInFailed, nil, map[string]any{"reason": "no auth provider"})
	}

	redirect, err := sm.provider.SignInWithOAuth(ctx, sm.oauthProvider, sm.redirectTo)
	if err != nil {
		sm.logger.Error("sign in failed", "provider", sm.oauthProvider, "error", err)
		sm.record(ctx, ActivityEvent{
			EventType: ActivityEventSignInFailed,
			Metadata:  map[string]any{"provider": sm.oauthProvider, "error": err.Error()},
		})
		return "", sentinelWithCause(ErrSignInFailed, err, map[string]any{"provider": sm.oauthProvider})
	}

	sm.record(ctx, ActivityEvent{
		EventType: ActivityEventSignInRequested,
		Metadata:  map[string]any{"provider": sm.oauthProvider},
	})
	return redirect, nil
}

// SignOut clears the local state before asking the provider to end the
// session. A provider failure is returned but the local state stays guest.
func (sm *StateMachine) SignOut(ctx context.Context) error {
	if sm.isClosed() {
		return ErrClosed
	}

	var previous AccessState
	sm.transition(func(state *AccessState) bool {
		previous = state.Clone()
		sm.generation++
		state.Identity = nil
		state.Profile = nil
		state.Role = RoleGuest
		state.ProfileLoading = false
		return true
	})

	sm.record(ctx, ActivityEvent{
		EventType: ActivityEventSignOut,
		UserID:    previous.UserID(),
		Email:     previous.Email(),
		FromRole:  previous.Role,
		ToRole:    RoleGuest,
	})

	if sm.provider == nil {
		return nil
	}

	if err := sm.providerSignOut(ctx); err != nil {
		sm.logger.Error("provider sign out failed", "user_id", previous.UserID(), "error", err)
		sm.record(ctx, ActivityEvent{
			EventType: ActivityEventSignOutFailed,
			UserID:    previous.UserID(),
			Metadata:  map[string]any{"error": err.Error()},
		})
		return sentinelWithCause(ErrSignOutFailed, err, nil)
	}
	return nil
}

// Close unsubscribes from the provider and waits for in-flight profile
// fetches to return. It is safe to call more than once.
func (sm *StateMachine) Close() error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return nil
	}
	sm.closed = true
	unsubscribe := sm.unsubscribe
	sm.unsubscribe = nil
	sm.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	sm.cancel()
	sm.fetches.Wait()

	sm.mu.Lock()
	sm.listeners = map[uint64]Listener{}
	sm.mu.Unlock()
	return nil
}

func (sm *StateMachine) isClosed() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.closed
}

func (sm *StateMachine) getSession(ctx context.Context) (identity *Identity, err error) {
	defer func() {
		if r := recover(); r != nil {
			identity = nil
			err = fmt.Errorf("get session panicked: %v", r)
		}
	}()
	return sm.provider.GetSession(ctx)
}

func (sm *StateMachine) providerSignOut(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sign out panicked: %v", r)
		}
	}()
	return sm.provider.SignOut(ctx)
}

// settleSession applies the initial session result. sessionLoading flips
// exactly once. If the provider already pushed an identity event, that event
// is newer than the session result and wins.
func (sm *StateMachine) settleSession(identity *Identity, err error) {
	if err != nil {
		sm.logger.Warn("session check failed, continuing as guest", "error", err)
		identity = nil
	}

	var fetch *profileFetch
	var settled AccessState
	applied := sm.transition(func(state *AccessState) bool {
		if sm.closed || sm.sessionSettled {
			return false
		}
		sm.sessionSettled = true
		state.SessionLoading = false
		if !sm.identityEvented {
			fetch = sm.applyIdentityLocked(state, identity)
		}
		settled = state.Clone()
		return true
	})
	if !applied {
		return
	}

	if err != nil {
		sm.record(sm.ctx, ActivityEvent{
			EventType: ActivityEventSessionFailed,
			ToRole:    settled.Role,
			Metadata:  map[string]any{"error": err.Error()},
		})
	} else {
		sm.record(sm.ctx, ActivityEvent{
			EventType: ActivityEventSessionResolved,
			UserID:    settled.UserID(),
			Email:     settled.Email(),
			ToRole:    settled.Role,
		})
	}

	sm.startFetch(fetch)
}

func (sm *StateMachine) handleIdentityChange(identity *Identity) {
	var fetch *profileFetch
	var previous, current AccessState
	changed := sm.transition(func(state *AccessState) bool {
		if sm.closed {
			return false
		}
		sm.identityEvented = true
		previous = state.Clone()
		fetch = sm.applyIdentityLocked(state, identity)
		current = state.Clone()
		return !sameState(previous, current)
	})
	if !changed {
		return
	}

	if previous.UserID() != current.UserID() {
		sm.record(sm.ctx, ActivityEvent{
			EventType: ActivityEventIdentityChanged,
			UserID:    current.UserID(),
			Email:     current.Email(),
			FromRole:  previous.Role,
			ToRole:    current.Role,
			Metadata:  map[string]any{"previous_user_id": previous.UserID()},
		})
	}

	sm.startFetch(fetch)
}

type profileFetch struct {
	generation uint64
	identity   Identity
}

// applyIdentityLocked must be called with both locks held. It returns the
// profile fetch to start, if any.
func (sm *StateMachine) applyIdentityLocked(state *AccessState, identity *Identity) *profileFetch {
	previous := state.Identity

	switch {
	case identity == nil:
		if previous != nil || state.Profile != nil || state.ProfileLoading {
			sm.generation++
		}
		state.Identity = nil
		state.Profile = nil
		state.Role = RoleGuest
		state.ProfileLoading = false
		return nil

	case previous == nil || previous.ID != identity.ID:
		sm.generation++
		state.Identity = identity.Clone()
		state.Profile = nil
		state.ProfileLoading = true
		return &profileFetch{generation: sm.generation, identity: *identity}

	default:
		state.Identity = identity.Clone()
		if !state.ProfileLoading {
			state.Role = DeriveRole(state.Identity, state.Profile, sm.privileged)
		}
		return nil
	}
}

func (sm *StateMachine) startFetch(fetch *profileFetch) {
	if fetch == nil {
		return
	}

	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return
	}
	sm.fetches.Add(1)
	sm.mu.Unlock()

	go sm.fetchProfile(*fetch)
}

type profileResult struct {
	profile *Profile
	err     error
}

func (sm *StateMachine) fetchProfile(fetch profileFetch) {
	defer sm.fetches.Done()

	var result profileResult
	defer func() {
		if r := recover(); r != nil {
			result = profileResult{err: sentinelWithCause(ErrProfileFetchPanic, nil, map[string]any{"panic": fmt.Sprint(r)})}
		}
		sm.settleProfile(fetch, result)
	}()

	result = sm.queryProfile(fetch.identity.ID)
}

// queryProfile races the store query against the timeout. The query runs on
// the machine context, so it may outlive the race; its late result is dropped.
func (sm *StateMachine) queryProfile(id string) profileResult {
	if sm.profiles == nil {
		return profileResult{err: ErrProfileNotFound}
	}

	results := make(chan profileResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- profileResult{err: sentinelWithCause(ErrProfileFetchPanic, nil, map[string]any{
					"panic":      fmt.Sprint(r),
					"profile_id": id,
				})}
			}
		}()
		profile, err := sm.profiles.GetProfileByID(sm.ctx, id)
		results <- profileResult{profile: profile, err: err}
	}()

	timeout := sm.after(sm.profileTimeout)

	select {
	case res := <-results:
		if res.err == nil && res.profile == nil {
			res.err = ErrProfileNotFound
		}
		return res
	case <-timeout:
		return profileResult{err: sentinelWithCause(ErrProfileFetchTimeout, nil, map[string]any{
			"profile_id": id,
			"timeout":    sm.profileTimeout.String(),
		})}
	case <-sm.ctx.Done():
		return profileResult{err: ErrClosed}
	}
}

func (sm *StateMachine) settleProfile(fetch profileFetch, result profileResult) {
	var settled AccessState
	applied := sm.transition(func(state *AccessState) bool {
		if sm.closed || fetch.generation != sm.generation {
			return false
		}
		if result.err != nil {
			state.Profile = nil
		} else {
			state.Profile = result.profile.Clone()
			state.Profile.EnsureDefaults()
		}
		state.ProfileLoading = false
		state.Role = DeriveRole(state.Identity, state.Profile, sm.privileged)
		settled = state.Clone()
		return true
	})

	if !applied {
		sm.logger.Debug("discarding stale profile result", "user_id", fetch.identity.ID, "generation", fetch.generation)
		return
	}

	if result.err != nil {
		sm.logger.Warn("profile fetch failed, using fallback role",
			"user_id", fetch.identity.ID,
			"role", settled.Role,
			"error", result.err,
		)
		sm.record(sm.ctx, ActivityEvent{
			EventType: ActivityEventProfileFailed,
			UserID:    fetch.identity.ID,
			Email:     settled.Email(),
			ToRole:    settled.Role,
			Metadata:  map[string]any{"error": result.err.Error()},
		})
		return
	}

	sm.logger.Debug("profile resolved", "user_id", fetch.identity.ID, "role", settled.Role)
	sm.record(sm.ctx, ActivityEvent{
		EventType: ActivityEventProfileResolved,
		UserID:    fetch.identity.ID,
		Email:     settled.Email(),
		ToRole:    settled.Role,
	})
}

// transition runs mutate under the dispatch and state locks and, when it
// reports a change, notifies listeners before releasing the dispatch lock.
func (sm *StateMachine) transition(mutate func(state *AccessState) bool) bool {
	sm.dispatchMu.Lock()
	defer sm.dispatchMu.Unlock()

	sm.mu.Lock()
	if !mutate(&sm.state) {
		sm.mu.Unlock()
		return false
	}
	snapshot := sm.state.Clone()
	listeners := make([]Listener, 0, len(sm.listeners))
	for id := uint64(0); id < sm.nextListenerID; id++ {
		if l, ok := sm.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	sm.mu.Unlock()

	for _, listener := range listeners {
		sm.notify(listener, snapshot.Clone())
	}
	return true
}

func (sm *StateMachine) notify(listener Listener, state AccessState) {
	defer func() {
		if r := recover(); r != nil {
			sm.logger.Error("access state listener panicked", "panic", r)
		}
	}()
	listener(state)
}

func (sm *StateMachine) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, event)
}

func sameState(a, b AccessState) bool {
	if a.Role != b.Role || a.SessionLoading != b.SessionLoading || a.ProfileLoading != b.ProfileLoading {
		return false
	}
	if (a.Identity == nil) != (b.Identity == nil) || (a.Profile == nil) != (b.Profile == nil) {
		return false
	}
	if a.Identity != nil && *a.Identity != *b.Identity {
		return false
	}
	if a.Profile != nil && a.Profile.ID != b.Profile.ID {
		return false
	}
	return true
}
