// Package session manages the durable login sessions of the service. A
// session is created when a login round trip begins, activated when the
// provider callback succeeds, and terminated by logout or the background
// sweep. The refresh secret is stored encrypted; the encryption salt is
// handed to the browser as part of the session token, so neither the cookie
// nor the persisted row alone is enough to recover the secret.
package session

import (
	"context"
	"time"
)

// IDLength is the length of a session id. Session tokens are split into id
// and salt share by this fixed prefix length.
const IDLength = 36

// Session is one durable login session.
type Session struct {
	// ID is the opaque session identifier, fixed at IDLength characters.
	ID string `json:"id"`

	// OwnerID is the provider-assigned user identifier. Empty until the
	// callback succeeds.
	OwnerID string `json:"ownerId"`

	// EncryptedRefreshSecret holds the ciphertext part of the encrypted
	// refresh credential. Blank means the session is terminated.
	EncryptedRefreshSecret string `json:"encryptedRefreshSecret"`

	// CodeVerifier is the PKCE verifier generated at login-begin. It is
	// independent of the session token salt share.
	CodeVerifier string `json:"codeVerifier"`

	InitiatedAt  time.Time `json:"initiatedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`

	// RefreshSecret is the decrypted refresh credential. It is populated
	// by Manager.Resolve for the duration of a request and never persisted.
	RefreshSecret string `json:"-"`
}

// Terminated reports whether the session has been logged out.
func (s *Session) Terminated() bool {
	return s.EncryptedRefreshSecret == ""
}

// Store persists sessions. Implementations must make Put and Update atomic
// with respect to concurrent Get calls on the same id: a reader observes
// either the previous or the new row, never a partial write.
type Store interface {
	// Put inserts or replaces a session.
	Put(ctx context.Context, s Session) error

	// Get returns the session with the given id, or a NotFound error.
	Get(ctx context.Context, id string) (Session, error)

	// Update replaces an existing session, or returns NotFound.
	Update(ctx context.Context, s Session) error

	// TouchLastActive sets only the session's LastActiveAt, or returns
	// NotFound. It must not write back any other field, so a concurrent
	// Terminate is never undone by an activity refresh.
	TouchLastActive(ctx context.Context, id string, at time.Time) error

	// DeleteIdleSince removes all sessions whose LastActiveAt precedes the
	// cutoff and returns the number of rows removed. Safe to run
	// concurrently with request traffic.
	DeleteIdleSince(ctx context.Context, cutoff time.Time) (int, error)

	// Ping reports backend health.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
