package auth

import (
	"slices"
	"time"
)

// Identity is the principal decoded from a session's bearer token.
type Identity struct {
	// Principal is the token subject.
	Principal string

	// TenantID is read from the "tenant" claim when present.
	TenantID string

	// Roles are read from the "roles" claim when present.
	Roles []string

	// Claims contains the raw claims from the token.
	Claims map[string]any

	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasRole reports whether the "roles" claim listed role.
func (id *Identity) HasRole(role string) bool {
	return slices.Contains(id.Roles, role)
}

// IsExpired reports whether the token's exp claim has passed.
func (id *Identity) IsExpired() bool {
	return id.expiredAt(time.Now())
}

func (id *Identity) expiredAt(now time.Time) bool {
	if id.ExpiresAt.IsZero() {
		return false
	}
	return now.After(id.ExpiresAt)
}

// IsAnonymous reports whether the token carried no subject.
func (id *Identity) IsAnonymous() bool {
	return id.Principal == ""
}
