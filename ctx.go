package access

import (
	"context"

	"github.com/goliatone/go-router"
)

// StateLocalsKey is the router locals key the guard stores the admitted
// AccessState under.
const StateLocalsKey = "access_state"

var stateCtxKey = &contextKey{"access_state"}

type contextKey struct {
	name string
}

// WithStateContext sets the AccessState in the given context
func WithStateContext(r context.Context, state AccessState) context.Context {
	return context.WithValue(r, stateCtxKey, state)
}

// StateFromContext finds the AccessState in the context.
func StateFromContext(ctx context.Context) (AccessState, bool) {
	if ctx == nil {
		return AccessState{}, false
	}
	raw, ok := ctx.Value(stateCtxKey).(AccessState)
	return raw, ok
}

// GetRouterState extracts the AccessState the guard admitted from the router context
func GetRouterState(ctx router.Context) (AccessState, bool) {
	raw := ctx.Locals(StateLocalsKey)
	if raw == nil {
		return AccessState{}, false
	}
	state, ok := raw.(AccessState)
	return state, ok
}

// RoleFromContext is a convenience wrapper returning guest when no state is set.
func RoleFromContext(ctx context.Context) Role {
	state, ok := StateFromContext(ctx)
	if !ok {
		return RoleGuest
	}
	return state.Role
}
