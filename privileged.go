package access

import (
	"sort"
	"strings"
)

// PrivilegedSet is the configured allow-list of identities that resolve to
// admin regardless of their profile. It is a bootstrap mechanism until the
// profile store carries a real admin flag for everyone who needs it.
type PrivilegedSet struct {
	emails map[string]struct{}
}

// NewPrivilegedSet builds a set from emails, ignoring blanks and case.
func NewPrivilegedSet(emails ...string) PrivilegedSet {
	set := PrivilegedSet{emails: make(map[string]struct{}, len(emails))}
	for _, email := range emails {
		key := normalizeEmail(email)
		if key == "" {
			continue
		}
		set.emails[key] = struct{}{}
	}
	return set
}

// Contains reports whether email is privileged.
func (p PrivilegedSet) Contains(email string) bool {
	if len(p.emails) == 0 {
		return false
	}
	key := normalizeEmail(email)
	if key == "" {
		return false
	}
	_, ok := p.emails[key]
	return ok
}

// Len returns the number of configured identities.
func (p PrivilegedSet) Len() int {
	return len(p.emails)
}

// Emails returns the normalized emails in sorted order.
func (p PrivilegedSet) Emails() []string {
	out := make([]string, 0, len(p.emails))
	for email := range p.emails {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
