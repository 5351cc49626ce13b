package access

import "strings"

// Role is the coarse access tier derived from (Identity, Profile). It is never
// persisted.
type Role string

const (
	// RoleGuest has no identity
	RoleGuest Role = "guest"
	// RoleStandard is an authenticated user without a subscription
	RoleStandard Role = "standard"
	// RolePremium is an authenticated subscriber
	RolePremium Role = "premium"
	// RoleAdmin can manage content
	RoleAdmin Role = "admin"
)

// ProfileRole is the role column stored on the profile record.
type ProfileRole = string

const (
	ProfileRoleStandard ProfileRole = "standard"
	ProfileRoleAdmin    ProfileRole = "admin"
)

// SubscriptionStatus is the subscription column stored on the profile record.
type SubscriptionStatus = string

const (
	SubscriptionFree    SubscriptionStatus = "free"
	SubscriptionPremium SubscriptionStatus = "premium"
	// SubscriptionActive is the legacy spelling of premium, still present in
	// older profile rows.
	SubscriptionActive SubscriptionStatus = "active"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleGuest, RoleStandard, RolePremium, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the role is admin
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// HasPremiumAccess reports whether premium content is visible to the role.
// Admins get every premium feature.
func (r Role) HasPremiumAccess() bool {
	return r == RolePremium || r == RoleAdmin
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	current, ok := roleLevel(r)
	if !ok {
		return false
	}

	min, ok := roleLevel(minRole)
	if !ok {
		return false
	}

	return current >= min
}

func (r Role) String() string {
	return string(r)
}

func roleLevel(r Role) (int, bool) {
	switch r {
	case RoleGuest:
		return 0, true
	case RoleStandard:
		return 1, true
	case RolePremium:
		return 2, true
	case RoleAdmin:
		return 3, true
	default:
		return 0, false
	}
}

// GetAllRoles returns all roles in hierarchical order
func GetAllRoles() []Role {
	return []Role{
		RoleGuest,
		RoleStandard,
		RolePremium,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	return role, role.IsValid()
}

// IsPremiumSubscription reports whether status grants premium access,
// accepting the legacy "active" value.
func IsPremiumSubscription(status SubscriptionStatus) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case SubscriptionPremium, SubscriptionActive:
		return true
	default:
		return false
	}
}

// DeriveRole computes the Role for the latest known (identity, profile) pair.
// A nil profile covers both "not loaded" and "failed to load".
func DeriveRole(identity *Identity, profile *Profile, privileged PrivilegedSet) Role {
	if identity == nil {
		return RoleGuest
	}

	if privileged.Contains(identity.Email) {
		return RoleAdmin
	}

	if profile == nil {
		return RoleStandard
	}

	if strings.EqualFold(strings.TrimSpace(profile.Role), ProfileRoleAdmin) {
		return RoleAdmin
	}

	if IsPremiumSubscription(profile.SubscriptionStatus) {
		return RolePremium
	}

	return RoleStandard
}
