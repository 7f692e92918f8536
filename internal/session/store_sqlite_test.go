package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := &Session{
		AccessToken: "tok-abc",
		UserID:      "AB1234",
		LoginAt:     time.Date(2026, 2, 2, 8, 30, 0, 0, time.UTC),
		ExpiresAt:   time.Date(2026, 2, 3, 6, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.AccessToken, out.AccessToken)
	assert.Equal(t, in.UserID, out.UserID)
	assert.True(t, in.ExpiresAt.Equal(out.ExpiresAt))
}

func TestStoreLoadEmpty(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestStoreSaveReplacesPrevious(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Session{AccessToken: "old", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, store.Save(ctx, &Session{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", out.AccessToken)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Session{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, store.Delete(ctx))

	sess, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestStoreDetectsCorruption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Session{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	// Tamper with the payload without refreshing the checksum.
	_, err := store.db.ExecContext(ctx, `UPDATE session SET data = ? WHERE id = 1`, `{"access_token":"evil"}`)
	require.NoError(t, err)

	_, err = store.Load(ctx)
	assert.Error(t, err)
}

func TestSessionValid(t *testing.T) {
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	var nilSess *Session
	assert.False(t, nilSess.Valid(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Hour)}).Valid(now), "empty token")
	assert.False(t, (&Session{AccessToken: "t", ExpiresAt: now}).Valid(now), "expiry boundary is exclusive")
	assert.True(t, (&Session{AccessToken: "t", ExpiresAt: now.Add(time.Minute)}).Valid(now))
}
