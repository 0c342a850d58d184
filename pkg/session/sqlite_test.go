package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/polly-sub000/pkg/errors"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := Session{
		ID:                     "22222222-2222-2222-2222-222222222222",
		OwnerID:                "user-2",
		EncryptedRefreshSecret: "ciphertext",
		CodeVerifier:           "verifier",
		InitiatedAt:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastActiveAt:           time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	sess.OwnerID = ""
	sess.EncryptedRefreshSecret = ""
	require.NoError(t, store.Update(ctx, sess))
	got, err = store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Terminated())
}

func TestSQLiteStoreNotFound(t *testing.T) {
	t.Parallel()

	store := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	err = store.Update(ctx, Session{ID: "missing", InitiatedAt: time.Now(), LastActiveAt: time.Now()})
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStoreTouchLastActive(t *testing.T) {
	t.Parallel()

	store := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := Session{
		ID:                     "44444444-4444-4444-4444-444444444444",
		OwnerID:                "user-4",
		EncryptedRefreshSecret: "ciphertext",
		CodeVerifier:           "verifier",
		InitiatedAt:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastActiveAt:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put(ctx, sess))

	at := sess.LastActiveAt.Add(time.Hour)
	require.NoError(t, store.TouchLastActive(ctx, sess.ID, at))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, at, got.LastActiveAt)
	// Every other field is left alone.
	assert.Equal(t, sess.OwnerID, got.OwnerID)
	assert.Equal(t, sess.EncryptedRefreshSecret, got.EncryptedRefreshSecret)
	assert.Equal(t, sess.CodeVerifier, got.CodeVerifier)

	err = store.TouchLastActive(ctx, "missing", at)
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStoreDeleteIdleSince(t *testing.T) {
	t.Parallel()

	store := newTestSQLiteStore(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := Session{ID: "stale-session-id", InitiatedAt: cutoff.Add(-2 * time.Hour), LastActiveAt: cutoff.Add(-time.Hour)}
	fresh := Session{ID: "fresh-session-id", InitiatedAt: cutoff, LastActiveAt: cutoff.Add(time.Hour)}
	require.NoError(t, store.Put(ctx, stale))
	require.NoError(t, store.Put(ctx, fresh))

	removed, err := store.DeleteIdleSince(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, stale.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	store, err := NewStore(ctx, BackendMemory, "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = NewStore(ctx, BackendSQLite, "", filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = NewStore(ctx, "bogus", "", "")
	assert.Error(t, err)
}
