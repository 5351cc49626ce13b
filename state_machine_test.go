package access_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const privilegedEmail = "owner@nouriva.test"

func testOptions() *access.Options {
	opts := access.DefaultOptions()
	opts.PrivilegedEmails = []string{privilegedEmail}
	return opts
}

func newTestMachine(t *testing.T, provider access.AuthProvider, store access.ProfileStore, opts ...access.StateMachineOption) *access.StateMachine {
	t.Helper()
	opts = append([]access.StateMachineOption{access.WithStateMachineLogger(newCaptureLogger())}, opts...)
	sm := access.NewStateMachine(provider, store, testOptions(), opts...)
	t.Cleanup(func() { _ = sm.Close() })
	return sm
}

func waitSettled(t *testing.T, sm *access.StateMachine) access.AccessState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := sm.WaitUntil(ctx, access.AccessState.Settled)
	require.NoError(t, err, "state never settled: %+v", state)
	return state
}

func countSettles(states []access.AccessState, loading func(access.AccessState) bool, initial bool) int {
	prev := initial
	count := 0
	for _, s := range states {
		cur := loading(s)
		if prev && !cur {
			count++
		}
		prev = cur
	}
	return count
}

func TestStateMachineStartWithoutSessionResolvesGuest(t *testing.T) {
	provider := newFakeAuthProvider(nil)
	store := &MockProfileStore{}
	sm := newTestMachine(t, provider, store)

	assert.True(t, sm.GetState().SessionLoading)

	require.NoError(t, sm.Start(context.Background()))

	state := sm.GetState()
	assert.Equal(t, access.RoleGuest, state.Role)
	assert.False(t, state.SessionLoading)
	assert.False(t, state.ProfileLoading)
	assert.Nil(t, state.Identity)
	store.AssertNotCalled(t, "GetProfileByID", mock.Anything, mock.Anything)
}

func TestStateMachineSessionLoadingSettlesExactlyOnce(t *testing.T) {
	cases := []struct {
		name       string
		session    *access.Identity
		sessionErr error
		panics     bool
		expectUser string
	}{
		{name: "with session", session: &access.Identity{ID: "user-1", Email: "a@example.com"}, expectUser: "user-1"},
		{name: "empty session"},
		{name: "provider error", sessionErr: errors.New("network down")},
		{name: "provider panic", panics: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := newFakeAuthProvider(tc.session)
			provider.sessionErr = tc.sessionErr
			if tc.panics {
				provider.sessionHook = func() { panic("boom") }
			}

			store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
				return &access.Profile{ID: id}, nil
			})

			sm := newTestMachine(t, provider, store)
			rec := &stateRecorder{}
			sm.Subscribe(rec.Listen)

			require.NoError(t, sm.Start(context.Background()))
			state := waitSettled(t, sm)

			assert.Equal(t, 1, countSettles(rec.States(), func(s access.AccessState) bool { return s.SessionLoading }, true))
			assert.Equal(t, tc.expectUser, state.UserID())
			if tc.expectUser == "" {
				assert.Equal(t, access.RoleGuest, state.Role)
			} else {
				assert.Equal(t, access.RoleStandard, state.Role)
			}
		})
	}
}

func TestStateMachineResolvesRoleFromProfile(t *testing.T) {
	cases := []struct {
		name    string
		email   string
		profile *access.Profile
		err     error
		expect  access.Role
	}{
		{
			name:    "admin profile",
			email:   "chef@example.com",
			profile: &access.Profile{Role: access.ProfileRoleAdmin},
			expect:  access.RoleAdmin,
		},
		{
			name:    "premium subscriber",
			email:   "member@example.com",
			profile: &access.Profile{SubscriptionStatus: access.SubscriptionPremium},
			expect:  access.RolePremium,
		},
		{
			name:    "legacy active subscriber",
			email:   "member@example.com",
			profile: &access.Profile{SubscriptionStatus: access.SubscriptionActive},
			expect:  access.RolePremium,
		},
		{
			name:    "free profile",
			email:   "member@example.com",
			profile: &access.Profile{SubscriptionStatus: access.SubscriptionFree},
			expect:  access.RoleStandard,
		},
		{
			name:   "profile not found",
			email:  "member@example.com",
			err:    access.ErrProfileNotFound,
			expect: access.RoleStandard,
		},
		{
			name:   "nil profile without error",
			email:  "member@example.com",
			expect: access.RoleStandard,
		},
		{
			name:   "privileged email with store error",
			email:  privilegedEmail,
			err:    errors.New("connection reset"),
			expect: access.RoleAdmin,
		},
		{
			name:    "privileged email overrides free profile",
			email:   "OWNER@nouriva.test",
			profile: &access.Profile{Role: access.ProfileRoleStandard},
			expect:  access.RoleAdmin,
		},
		{
			name:   "ordinary user with store error",
			email:  "member@example.com",
			err:    errors.New("connection reset"),
			expect: access.RoleStandard,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			identity := &access.Identity{ID: "user-1", Email: tc.email}
			store := &MockProfileStore{}
			store.On("GetProfileByID", mock.Anything, "user-1").Return(tc.profile, tc.err).Once()

			sm := newTestMachine(t, newFakeAuthProvider(identity), store)
			require.NoError(t, sm.Start(context.Background()))

			state := waitSettled(t, sm)
			assert.Equal(t, tc.expect, state.Role)
			assert.False(t, state.ProfileLoading)
			assert.Equal(t, access.DeriveRole(state.Identity, state.Profile, access.NewPrivilegedSet(privilegedEmail)), state.Role)
			store.AssertExpectations(t)
		})
	}
}

func TestStateMachineProfileTimeoutFallsBackToStandard(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		<-release
		return &access.Profile{ID: id, Role: access.ProfileRoleAdmin}, nil
	})
	timer := newFakeTimer()
	provider := newFakeAuthProvider(&access.Identity{ID: "user-1", Email: "slow@example.com"})

	sm := newTestMachine(t, provider, store, access.WithProfileTimer(timer.After))
	require.NoError(t, sm.Start(context.Background()))

	select {
	case <-timer.armed:
	case <-time.After(2 * time.Second):
		t.Fatal("profile timer was never armed")
	}

	assert.Equal(t, []time.Duration{15 * time.Second}, timer.Durations())
	assert.True(t, sm.GetState().ProfileLoading)
	assert.False(t, sm.GetState().SessionLoading)

	timer.Fire()

	state := waitSettled(t, sm)
	assert.Equal(t, access.RoleStandard, state.Role)
	assert.Nil(t, state.Profile)
}

func TestStateMachineProfileTimeoutHonorsPrivilegedEmail(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		<-block
		return nil, nil
	})
	timer := newFakeTimer()
	sm := newTestMachine(t, newFakeAuthProvider(&access.Identity{ID: "user-1", Email: privilegedEmail}), store,
		access.WithProfileTimer(timer.After))

	require.NoError(t, sm.Start(context.Background()))
	<-timer.armed
	timer.Fire()

	assert.Equal(t, access.RoleAdmin, waitSettled(t, sm).Role)
}

func TestStateMachineStorePanicStillSettlesProfileLoading(t *testing.T) {
	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		panic("driver exploded")
	})
	provider := newFakeAuthProvider(nil)
	sm := newTestMachine(t, provider, store)
	require.NoError(t, sm.Start(context.Background()))

	rec := &stateRecorder{}
	sm.Subscribe(rec.Listen)

	provider.Emit(&access.Identity{ID: "user-1", Email: "a@example.com"})
	state := waitSettled(t, sm)

	assert.Equal(t, access.RoleStandard, state.Role)
	assert.Equal(t, 1, countSettles(rec.States(), func(s access.AccessState) bool { return s.ProfileLoading }, false))
}

func TestStateMachineIdentityChangeStartsFetchAndKeepsRole(t *testing.T) {
	release := make(chan struct{})
	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		if id == "user-2" {
			<-release
			return &access.Profile{ID: id, SubscriptionStatus: access.SubscriptionPremium}, nil
		}
		return &access.Profile{ID: id, Role: access.ProfileRoleAdmin}, nil
	})
	provider := newFakeAuthProvider(&access.Identity{ID: "user-1", Email: "a@example.com"})
	sm := newTestMachine(t, provider, store)
	require.NoError(t, sm.Start(context.Background()))
	require.Equal(t, access.RoleAdmin, waitSettled(t, sm).Role)

	provider.Emit(&access.Identity{ID: "user-2", Email: "b@example.com"})

	loading := sm.GetState()
	assert.True(t, loading.ProfileLoading)
	assert.Equal(t, "user-2", loading.UserID())
	assert.Nil(t, loading.Profile)
	assert.Equal(t, access.RoleAdmin, loading.Role, "role keeps its last value while the fetch runs")

	close(release)
	state := waitSettled(t, sm)
	assert.Equal(t, access.RolePremium, state.Role)
	assert.Equal(t, "user-2", state.Profile.ID)
}

func TestStateMachineDiscardsStaleProfileResult(t *testing.T) {
	releaseA := make(chan struct{})
	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		switch id {
		case "user-a":
			<-releaseA
			return &access.Profile{ID: "user-a", Role: access.ProfileRoleAdmin}, nil
		default:
			return &access.Profile{ID: id, SubscriptionStatus: access.SubscriptionPremium}, nil
		}
	})

	logger := newCaptureLogger()
	timer := newFakeTimer()
	provider := newFakeAuthProvider(&access.Identity{ID: "user-a", Email: "a@example.com"})
	sm := newTestMachine(t, provider, store,
		access.WithProfileTimer(timer.After),
		access.WithStateMachineLogger(logger),
	)

	require.NoError(t, sm.Start(context.Background()))
	assert.True(t, sm.GetState().ProfileLoading)

	provider.Emit(&access.Identity{ID: "user-b", Email: "b@example.com"})
	state := waitSettled(t, sm)
	require.Equal(t, "user-b", state.UserID())
	require.Equal(t, access.RolePremium, state.Role)

	close(releaseA)
	require.True(t, logger.WaitFor("discarding stale profile result", 2*time.Second))

	state = sm.GetState()
	assert.Equal(t, "user-b", state.UserID())
	assert.Equal(t, "user-b", state.Profile.ID)
	assert.Equal(t, access.RolePremium, state.Role)
}

func TestStateMachineSameIdentityDoesNotRefetch(t *testing.T) {
	store := &MockProfileStore{}
	store.On("GetProfileByID", mock.Anything, "user-1").
		Return(&access.Profile{ID: "user-1", SubscriptionStatus: access.SubscriptionFree}, nil).Once()

	provider := newFakeAuthProvider(&access.Identity{ID: "user-1", Email: "old@example.com"})
	sm := newTestMachine(t, provider, store)
	require.NoError(t, sm.Start(context.Background()))
	require.Equal(t, access.RoleStandard, waitSettled(t, sm).Role)

	rec := &stateRecorder{}
	sm.Subscribe(rec.Listen)

	t.Run("identical identity publishes nothing", func(t *testing.T) {
		provider.Emit(&access.Identity{ID: "user-1", Email: "old@example.com"})
		assert.Empty(t, rec.States())
	})

	t.Run("attribute change replaces identity", func(t *testing.T) {
		provider.Emit(&access.Identity{ID: "user-1", Email: "new@example.com"})
		state := sm.GetState()
		assert.Equal(t, "new@example.com", state.Email())
		assert.False(t, state.ProfileLoading)
		assert.Equal(t, access.RoleStandard, state.Role)
	})

	t.Run("email moving into the privileged set recomputes role", func(t *testing.T) {
		provider.Emit(&access.Identity{ID: "user-1", Email: privilegedEmail})
		assert.Equal(t, access.RoleAdmin, sm.GetState().Role)
	})

	store.AssertNumberOfCalls(t, "GetProfileByID", 1)
}

func TestStateMachineIdentityClearedIsSynchronous(t *testing.T) {
	store := &MockProfileStore{}
	store.On("GetProfileByID", mock.Anything, "user-1").
		Return(&access.Profile{ID: "user-1", Role: access.ProfileRoleAdmin}, nil).Once()

	provider := newFakeAuthProvider(&access.Identity{ID: "user-1", Email: "a@example.com"})
	sm := newTestMachine(t, provider, store)
	require.NoError(t, sm.Start(context.Background()))
	require.Equal(t, access.RoleAdmin, waitSettled(t, sm).Role)

	provider.Emit(nil)

	state := sm.GetState()
	assert.Equal(t, access.RoleGuest, state.Role)
	assert.Nil(t, state.Identity)
	assert.Nil(t, state.Profile)
	assert.False(t, state.ProfileLoading)
}

func TestStateMachineIdentityEventBeforeSessionSettles(t *testing.T) {
	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		return &access.Profile{ID: id}, nil
	})
	provider := newFakeAuthProvider(&access.Identity{ID: "stale", Email: "stale@example.com"})
	provider.sessionHook = func() {
		provider.Emit(&access.Identity{ID: "fresh", Email: "fresh@example.com"})
	}

	sm := newTestMachine(t, provider, store)
	require.NoError(t, sm.Start(context.Background()))

	state := waitSettled(t, sm)
	assert.Equal(t, "fresh", state.UserID())
	assert.False(t, state.SessionLoading)
}

func TestStateMachineSignOutIsOptimistic(t *testing.T) {
	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		return &access.Profile{ID: id, SubscriptionStatus: access.SubscriptionPremium}, nil
	})
	provider := newFakeAuthProvider(&access.Identity{ID: "user-1", Email: "a@example.com"})
	sm := newTestMachine(t, provider, store)
	require.NoError(t, sm.Start(context.Background()))
	require.Equal(t, access.RolePremium, waitSettled(t, sm).Role)

	var observed access.AccessState
	provider.signOutHook = func() { observed = sm.GetState() }

	require.NoError(t, sm.SignOut(context.Background()))

	assert.Equal(t, access.RoleGuest, observed.Role, "local state is guest before the provider is called")
	assert.Nil(t, observed.Identity)
	assert.Nil(t, observed.Profile)
	assert.Equal(t, 1, provider.signOutCalls)
	assert.Equal(t, access.RoleGuest, sm.GetState().Role)
}

func TestStateMachineSignOutProviderFailure(t *testing.T) {
	release := make(chan struct{})
	logger := newCaptureLogger()
	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		<-release
		return &access.Profile{ID: id, Role: access.ProfileRoleAdmin}, nil
	})
	provider := newFakeAuthProvider(&access.Identity{ID: "user-1", Email: "a@example.com"})
	provider.signOutErr = errors.New("provider unavailable")

	sm := newTestMachine(t, provider, store,
		access.WithStateMachineLogger(logger),
		access.WithProfileTimer(newFakeTimer().After),
	)
	require.NoError(t, sm.Start(context.Background()))
	require.True(t, sm.GetState().ProfileLoading)

	err := sm.SignOut(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, access.ErrSignOutFailed)

	state := waitSettled(t, sm)
	assert.Equal(t, access.RoleGuest, state.Role)
	assert.Nil(t, state.Identity)

	close(release)
	require.True(t, logger.WaitFor("discarding stale profile result", 2*time.Second))
	assert.Equal(t, access.RoleGuest, sm.GetState().Role, "in-flight fetch must not resurrect the old user")

	err = sm.SignOut(context.Background())
	assert.ErrorIs(t, err, access.ErrSignOutFailed)
	assert.Equal(t, 2, provider.signOutCalls)
}

func TestStateMachineSignIn(t *testing.T) {
	t.Run("uses configured provider and redirect", func(t *testing.T) {
		provider := newFakeAuthProvider(nil)
		sm := newTestMachine(t, provider, &MockProfileStore{})

		url, err := sm.SignIn(context.Background())
		require.NoError(t, err)
		assert.Equal(t, provider.signInURL, url)
		assert.Equal(t, access.DefaultOAuthProvider, provider.signInProvider)
		assert.Equal(t, access.DefaultOAuthRedirect, provider.signInRedirect)
	})

	t.Run("provider error is surfaced", func(t *testing.T) {
		provider := newFakeAuthProvider(nil)
		provider.signInErr = errors.New("popup blocked")
		sink := &recordingSink{}
		sm := newTestMachine(t, provider, &MockProfileStore{}, access.WithStateMachineActivitySink(sink))

		_, err := sm.SignIn(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, access.ErrSignInFailed)
		assert.Contains(t, sink.Types(), access.ActivityEventSignInFailed)
	})
}

func TestStateMachineRoleIsPureFunctionOfLatestPair(t *testing.T) {
	profiles := map[string]*access.Profile{
		"admin":   {ID: "admin", Role: access.ProfileRoleAdmin},
		"premium": {ID: "premium", SubscriptionStatus: access.SubscriptionPremium},
		"legacy":  {ID: "legacy", SubscriptionStatus: access.SubscriptionActive},
		"free":    {ID: "free"},
	}
	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		if p, ok := profiles[id]; ok {
			return p.Clone(), nil
		}
		return nil, access.ErrProfileNotFound
	})
	privileged := access.NewPrivilegedSet(privilegedEmail)

	sequence := []*access.Identity{
		{ID: "free", Email: "free@example.com"},
		{ID: "admin", Email: "admin@example.com"},
		nil,
		{ID: "premium", Email: "premium@example.com"},
		{ID: "missing", Email: privilegedEmail},
		{ID: "missing", Email: "missing@example.com"},
		{ID: "legacy", Email: "legacy@example.com"},
		nil,
		nil,
	}

	provider := newFakeAuthProvider(nil)
	sm := newTestMachine(t, provider, store)
	require.NoError(t, sm.Start(context.Background()))

	for i, identity := range sequence {
		provider.Emit(identity)
		state := waitSettled(t, sm)
		assert.Equal(t, access.DeriveRole(state.Identity, state.Profile, privileged), state.Role, "step %d", i)
	}
}

func TestStateMachineSubscribe(t *testing.T) {
	provider := newFakeAuthProvider(nil)
	sm := newTestMachine(t, provider, profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		return &access.Profile{ID: id}, nil
	}))

	var mu sync.Mutex
	var order []string
	unsubscribe := sm.Subscribe(func(s access.AccessState) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s.UserID())
	})

	mu.Lock()
	assert.Empty(t, order, "listener is not called on subscribe")
	mu.Unlock()

	require.NoError(t, sm.Start(context.Background()))
	provider.Emit(&access.Identity{ID: "user-1", Email: "a@example.com"})
	waitSettled(t, sm)
	provider.Emit(nil)

	mu.Lock()
	assert.Equal(t, []string{"", "user-1", "user-1", ""}, order)
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	provider.Emit(&access.Identity{ID: "user-2", Email: "b@example.com"})
	waitSettled(t, sm)

	mu.Lock()
	assert.Len(t, order, 4)
	mu.Unlock()
}

func TestStateMachineWaitUntilHonorsContext(t *testing.T) {
	sm := newTestMachine(t, newFakeAuthProvider(nil), &MockProfileStore{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	state, err := sm.WaitUntil(ctx, access.AccessState.Authenticated)
	require.Error(t, err)
	assert.True(t, state.SessionLoading)
}

func TestStateMachineLifecycle(t *testing.T) {
	provider := newFakeAuthProvider(nil)
	sm := access.NewStateMachine(provider, &MockProfileStore{}, testOptions(),
		access.WithStateMachineLogger(newCaptureLogger()))

	require.NoError(t, sm.Start(context.Background()))
	assert.ErrorIs(t, sm.Start(context.Background()), access.ErrAlreadyStarted)
	assert.Equal(t, 1, provider.listenerCount())

	require.NoError(t, sm.Close())
	require.NoError(t, sm.Close())
	assert.Equal(t, 0, provider.listenerCount())

	assert.ErrorIs(t, sm.SignOut(context.Background()), access.ErrClosed)
	_, err := sm.SignIn(context.Background())
	assert.ErrorIs(t, err, access.ErrClosed)
}

func TestStateMachineRecordsActivity(t *testing.T) {
	sink := &recordingSink{}
	store := profileStoreFunc(func(ctx context.Context, id string) (*access.Profile, error) {
		return &access.Profile{ID: id}, nil
	})
	provider := newFakeAuthProvider(&access.Identity{ID: "user-1", Email: "a@example.com"})
	sm := newTestMachine(t, provider, store, access.WithStateMachineActivitySink(sink))

	require.NoError(t, sm.Start(context.Background()))
	waitSettled(t, sm)
	require.NoError(t, sm.SignOut(context.Background()))

	assert.Eventually(t, func() bool {
		types := sink.Types()
		return len(types) >= 3
	}, time.Second, 5*time.Millisecond)

	types := sink.Types()
	assert.Contains(t, types, access.ActivityEventSessionResolved)
	assert.Contains(t, types, access.ActivityEventProfileResolved)
	assert.Contains(t, types, access.ActivityEventSignOut)
}
