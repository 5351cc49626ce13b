package access

// AccessState is the composite published by the StateMachine. Values handed
// to callers are snapshots; mutating them has no effect on the machine.
type AccessState struct {
	Identity       *Identity `json:"identity"`
	Profile        *Profile  `json:"profile,omitempty"`
	Role           Role      `json:"role"`
	SessionLoading bool      `json:"session_loading"`
	ProfileLoading bool      `json:"profile_loading"`
}

// InitialState is the state before the session check settles.
func InitialState() AccessState {
	return AccessState{
		Role:           RoleGuest,
		SessionLoading: true,
	}
}

// Clone returns a deep copy of the state.
func (s AccessState) Clone() AccessState {
	s.Identity = s.Identity.Clone()
	s.Profile = s.Profile.Clone()
	return s
}

// Authenticated reports whether an identity is present.
func (s AccessState) Authenticated() bool {
	return s.Identity != nil
}

// IsAdmin reports whether the current role is admin.
func (s AccessState) IsAdmin() bool {
	return s.Role.IsAdmin()
}

// IsPremium reports whether premium content is visible.
func (s AccessState) IsPremium() bool {
	return s.Role.HasPremiumAccess()
}

// Settled reports whether neither the session nor the profile is loading.
func (s AccessState) Settled() bool {
	return !s.SessionLoading && !s.ProfileLoading
}

// UserID returns the identity id or an empty string for guests.
func (s AccessState) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}

// Email returns the identity email or an empty string for guests.
func (s AccessState) Email() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Email
}

// FullName returns the profile name when loaded.
func (s AccessState) FullName() string {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.FullName
}
