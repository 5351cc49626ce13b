package access

import (
	"context"
	"time"
)

// Identity is the opaque reference to a user authenticated by the external
// provider. Identities are replaced wholesale, never patched in place.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Clone returns a copy of the identity, nil safe.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// IdentityListener receives identity change events from an AuthProvider.
// A nil identity means the user signed out or the session expired.
type IdentityListener func(identity *Identity)

// AuthProvider is the external authentication provider the state machine
// consumes. It owns the session; the state machine only observes it.
type AuthProvider interface {
	// GetSession returns the current identity, or nil when there is no session.
	GetSession(ctx context.Context) (*Identity, error)
	// OnIdentityChange registers a listener and returns its unsubscribe func.
	OnIdentityChange(listener IdentityListener) (unsubscribe func())
	// SignInWithOAuth returns the URL the user must be sent to.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	SignOut(ctx context.Context) error
}

// ProfileStore fetches the extended profile record keyed by identity id.
// Implementations return ErrProfileNotFound when no record exists.
type ProfileStore interface {
	GetProfileByID(ctx context.Context, id string) (*Profile, error)
}

// Listener is notified with a snapshot after every AccessState change.
type Listener func(state AccessState)

// StateSource is the read-only view of the state machine handed to consumers.
type StateSource interface {
	GetState() AccessState
	Subscribe(listener Listener) (unsubscribe func())
	WaitUntil(ctx context.Context, cond func(AccessState) bool) (AccessState, error)
}

// Config holds access options
type Config interface {
	GetProfileTimeout() time.Duration
	GetPrivilegedEmails() []string
	GetOAuthProvider() string
	GetOAuthRedirectURL() string
	GetSignInRoute() string
	GetDefaultRoute() string
	GetAdminRoute() string
	GetSubscribeRoute() string
}
