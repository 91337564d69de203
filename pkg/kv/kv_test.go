package kv

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientWithRedis(rdb), mr
}

func TestOAuthStateSingleUse(t *testing.T) {
	t.Parallel()
	client, mr := newTestClient(t)
	store := NewOAuthStore(client)
	ctx := t.Context()

	record := StateRecord{
		CodeVerifier: "verifier",
		Provider:     "google",
		RedirectURI:  "https://sync.example.com/api/auth/oauth/callback",
		AppOrigin:    "https://app.example.com",
		CreatedAt:    1000,
	}
	require.NoError(t, store.PutState(ctx, "s1", record, 10*time.Minute))

	ttl := mr.TTL("oauth_state:s1")
	assert.Equal(t, 10*time.Minute, ttl)

	got, err := store.ConsumeState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	// Consumed: second read fails.
	_, err = store.ConsumeState(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ConsumeState(ctx, "never-stored")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOAuthStateExpiry(t *testing.T) {
	t.Parallel()
	client, mr := newTestClient(t)
	store := NewOAuthStore(client)
	ctx := t.Context()

	require.NoError(t, store.PutState(ctx, "s1", StateRecord{Provider: "google"}, 10*time.Minute))
	mr.FastForward(11 * time.Minute)

	_, err := store.ConsumeState(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOAuthResultMailbox(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	store := NewOAuthStore(client)
	ctx := t.Context()

	authData, err := json.Marshal(map[string]string{"token": "jwt"})
	require.NoError(t, err)

	envelope := ResultEnvelope{
		Status:    ResultSuccess,
		AuthData:  authData,
		AppOrigin: "https://app.example.com",
		CreatedAt: 1000,
	}
	require.NoError(t, store.PutResult(ctx, "s1", envelope, 10*time.Minute))

	got, err := store.ConsumeResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, got.Status)
	assert.JSONEq(t, `{"token":"jwt"}`, string(got.AuthData))

	// The mailbox is single-consumption by design.
	_, err = store.ConsumeResult(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionPutGetTouch(t *testing.T) {
	t.Parallel()
	client, mr := newTestClient(t)
	store := NewSessionStore(client)
	ctx := t.Context()

	record := SessionRecord{DeviceID: "d1", IssuedAt: 100, ExpiresAt: 200, LastActivity: 100}
	require.NoError(t, store.Put(ctx, "u1", "j1", record, time.Hour))

	got, err := store.Get(ctx, "u1", "j1")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	// Touch updates last_activity but keeps the TTL.
	before := mr.TTL("session:u1:j1")
	require.NoError(t, store.Touch(ctx, "u1", "j1", 150))
	got, err = store.Get(ctx, "u1", "j1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.LastActivity)
	assert.Equal(t, before, mr.TTL("session:u1:j1"))

	// Touching a missing session is not an error.
	assert.NoError(t, store.Touch(ctx, "u1", "gone", 150))
}

func TestSessionList(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	store := NewSessionStore(client)
	ctx := t.Context()

	require.NoError(t, store.Put(ctx, "u1", "j1", SessionRecord{DeviceID: "d1"}, time.Hour))
	require.NoError(t, store.Put(ctx, "u1", "j2", SessionRecord{DeviceID: "d2"}, time.Hour))
	require.NoError(t, store.Put(ctx, "u2", "j3", SessionRecord{DeviceID: "d3"}, time.Hour))

	sessions, err := store.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	devices := map[string]string{}
	for _, s := range sessions {
		devices[s.JTI] = s.Record.DeviceID
	}
	assert.Equal(t, map[string]string{"j1": "d1", "j2": "d2"}, devices)
}

func TestSessionRevoke(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	store := NewSessionStore(client)
	ctx := t.Context()

	require.NoError(t, store.Put(ctx, "u1", "j1", SessionRecord{DeviceID: "d1"}, time.Hour))

	revoked, err := store.IsRevoked(ctx, "u1", "j1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "u1", "j1", time.Hour))

	revoked, err = store.IsRevoked(ctx, "u1", "j1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// The session record is gone with it.
	_, err = store.Get(ctx, "u1", "j1")
	assert.ErrorIs(t, err, ErrNotFound)
}
