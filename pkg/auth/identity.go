// Package auth authenticates incoming requests. Credentials arrive either
// as a session cookie or as a bearer access token; both paths end in the
// same JWT validation against the identity provider's key set, and a
// validated request carries an Identity in its context for the rest of the
// handler chain.
package auth

import (
	"fmt"
)

// Identity represents an authenticated user. It is request-scoped and never
// persisted.
type Identity struct {
	// Subject is the provider-assigned stable user identifier.
	Subject string

	// Name is the human-readable name (from the 'name' claim).
	Name string

	// Email is the email address (from the 'email' claim, if available).
	Email string

	// Groups are the group identifiers from the 'groups' claim.
	Groups []string

	// Roles are derived from Groups through the configured role mappings.
	Roles []Role

	// AppID is the calling application's identifier (from the 'azp' claim).
	AppID string
}

// String redacts everything but the subject so identities can be logged.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Identity{Subject:%q}", i.Subject)
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role Role) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}
