package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/navikt/polly-sub000/pkg/crypto"
	"github.com/navikt/polly-sub000/pkg/errors"
	"github.com/navikt/polly-sub000/pkg/logger"
	"github.com/navikt/polly-sub000/pkg/telemetry"
)

// touchInterval bounds how often LastActiveAt is written back to the store.
const touchInterval = time.Minute

// Manager implements the session lifecycle over a Store and an Encryptor.
type Manager struct {
	store     Store
	encryptor *crypto.Encryptor
	now       func() time.Time

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager creates a session manager over the given store and encryptor.
func NewManager(store Store, encryptor *crypto.Encryptor) *Manager {
	return &Manager{
		store:     store,
		encryptor: encryptor,
		now:       time.Now,
	}
}

// Create begins a new session in the awaiting-callback state and persists it.
// The PKCE code verifier is generated here and consumed at callback.
func (m *Manager) Create(ctx context.Context) (Session, error) {
	now := m.now()
	s := Session{
		ID:           uuid.NewString(),
		CodeVerifier: oauth2.GenerateVerifier(),
		InitiatedAt:  now,
		LastActiveAt: now,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, fmt.Errorf("failed to persist session: %w", err)
	}
	return s, nil
}

// Get loads a session by id.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.Get(ctx, id)
}

// Activate stores the owner and the encrypted refresh secret on the session
// and returns the session token handed to the browser. The token is the
// session id followed by the encryption salt; the salt is never persisted
// alongside the ciphertext it protects.
func (m *Manager) Activate(ctx context.Context, id, ownerID, refreshSecret string) (string, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	salt, ciphertext, err := m.encryptor.EncryptParts(refreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh secret: %w", err)
	}

	s.OwnerID = ownerID
	s.EncryptedRefreshSecret = ciphertext
	s.LastActiveAt = m.now()
	if err := m.store.Update(ctx, s); err != nil {
		return "", err
	}

	return s.ID + salt, nil
}

// Resolve loads the session a token refers to and decrypts its refresh
// secret in memory. Any failure is reported as Unauthorized so the caller
// degrades to an anonymous request.
func (m *Manager) Resolve(ctx context.Context, token string) (Session, error) {
	if len(token) < IDLength+crypto.EncodedSaltLength {
		return Session{}, errors.NewUnauthorizedError("session token is malformed", nil)
	}
	id, salt := token[:IDLength], token[IDLength:]

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, errors.NewUnauthorizedError("session does not exist", err)
	}
	if s.Terminated() {
		return Session{}, errors.NewUnauthorizedError("session is terminated", nil)
	}

	secret, err := m.encryptor.DecryptParts(salt, s.EncryptedRefreshSecret)
	if err != nil {
		return Session{}, errors.NewUnauthorizedError("session token does not match session", err)
	}
	s.RefreshSecret = secret
	return s, nil
}

// Terminate blanks the session's refresh secret. The row is kept so a
// concurrent login round trip can still find it; the sweep removes it later.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	s.OwnerID = ""
	s.EncryptedRefreshSecret = ""
	s.LastActiveAt = m.now()
	return m.store.Update(ctx, s)
}

// Touch refreshes the session's LastActiveAt, writing through to the store
// at most once per minute to bound write amplification. Only the timestamp
// is written, so a terminate racing with this request stays terminated.
func (m *Manager) Touch(ctx context.Context, s Session) error {
	now := m.now()
	if now.Sub(s.LastActiveAt) < touchInterval {
		return nil
	}
	err := m.store.TouchLastActive(ctx, s.ID, now)
	if errors.IsNotFound(err) {
		// Swept between resolve and touch; nothing left to refresh.
		return nil
	}
	return err
}

// SweepExpired deletes sessions idle for longer than maxAge.
func (m *Manager) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := m.store.DeleteIdleSince(ctx, m.now().Add(-maxAge))
	if n > 0 {
		telemetry.SessionsSwept.Add(float64(n))
	}
	return n, err
}

// Ping reports whether the underlying store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// StartSweeper launches a background goroutine that runs SweepExpired on a
// fixed schedule until Close is called.
func (m *Manager) StartSweeper(interval, maxAge time.Duration) {
	if m.stopSweep != nil {
		return
	}
	m.stopSweep = make(chan struct{})
	m.sweepDone = make(chan struct{})

	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := m.SweepExpired(context.Background(), maxAge)
				if err != nil {
					logger.Warnf("Session sweep failed: %v", err)
				} else if n > 0 {
					logger.Debugf("Session sweep removed %d idle sessions", n)
				}
			case <-m.stopSweep:
				return
			}
		}
	}()
}

// Close stops the sweeper and closes the underlying store.
func (m *Manager) Close() error {
	if m.stopSweep != nil {
		close(m.stopSweep)
		<-m.sweepDone
		m.stopSweep = nil
	}
	return m.store.Close()
}
