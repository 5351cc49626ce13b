//go:build accessdev

package access

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// DevLoginAvailable reports whether the development bypass is compiled in.
const DevLoginAvailable = true

// DevLogin force-sets an admin identity without contacting the provider.
// It only exists in binaries built with the accessdev tag.
func (sm *StateMachine) DevLogin(email string) AccessState {
	email = strings.TrimSpace(email)
	if email == "" {
		email = "dev@localhost"
	}

	identity := &Identity{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("dev:"+strings.ToLower(email))).String(),
		Email: email,
	}

	var current AccessState
	sm.transition(func(state *AccessState) bool {
		sm.generation++
		sm.sessionSettled = true
		state.Identity = identity
		state.Profile = &Profile{
			ID:                 identity.ID,
			Email:              email,
			FullName:           "Developer",
			Role:               ProfileRoleAdmin,
			SubscriptionStatus: SubscriptionPremium,
		}
		state.Role = RoleAdmin
		state.SessionLoading = false
		state.ProfileLoading = false
		current = state.Clone()
		return true
	})

	sm.logger.Warn("development login bypass used", "email", email)
	sm.record(context.Background(), ActivityEvent{
		EventType: ActivityEventDevLogin,
		UserID:    identity.ID,
		Email:     email,
		ToRole:    RoleAdmin,
	})

	return current
}
