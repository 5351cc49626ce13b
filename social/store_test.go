package social

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	token, err := store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.SaveSession(ctx, "token-1", time.Minute))
	token, err = store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	now = now.Add(time.Minute)
	token, err = store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, token, "session past its ttl is gone")

	require.NoError(t, store.SaveSession(ctx, "token-2", 0))
	now = now.Add(24 * time.Hour)
	token, err = store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token, "zero ttl never expires")

	require.NoError(t, store.ClearSession(ctx))
	token, err = store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestMemoryStoreChallenges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	challenge, err := store.LoadChallenge(ctx, "cook@example.com")
	require.NoError(t, err)
	assert.Nil(t, challenge)

	require.NoError(t, store.SaveChallenge(ctx, OTPChallenge{
		Email:     "Cook@Example.com ",
		CodeHash:  "hash",
		ExpiresAt: now.Add(time.Minute),
	}, time.Minute))

	challenge, err = store.LoadChallenge(ctx, "cook@example.com")
	require.NoError(t, err)
	require.NotNil(t, challenge)
	assert.Equal(t, "hash", challenge.CodeHash)

	challenge.Attempts = 3
	again, err := store.LoadChallenge(ctx, "COOK@example.com")
	require.NoError(t, err)
	assert.Zero(t, again.Attempts, "loaded challenges are copies")

	require.NoError(t, store.DeleteChallenge(ctx, "cook@example.com"))
	challenge, err = store.LoadChallenge(ctx, "cook@example.com")
	require.NoError(t, err)
	assert.Nil(t, challenge)

	require.NoError(t, store.SaveChallenge(ctx, OTPChallenge{Email: "late@example.com"}, time.Second))
	now = now.Add(2 * time.Second)
	challenge, err = store.LoadChallenge(ctx, "late@example.com")
	require.NoError(t, err)
	assert.Nil(t, challenge)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("NOURIVA_TEST_REDIS")
	if addr == "" {
		t.Skip("NOURIVA_TEST_REDIS not set")
	}

	ctx := context.Background()
	client, err := ConnectRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "nouriva:test:"+uuid.NewString()+":")
	t.Cleanup(func() {
		_ = store.ClearSession(ctx)
		_ = store.DeleteChallenge(ctx, "cook@example.com")
	})

	token, err := store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.SaveSession(ctx, "token-1", time.Minute))
	token, err = store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	ttl, err := client.TTL(ctx, store.sessionKey()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.ClearSession(ctx))
	token, err = store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	expires := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, store.SaveChallenge(ctx, OTPChallenge{
		Email:     "cook@example.com",
		CodeHash:  "hash",
		Attempts:  2,
		ExpiresAt: expires,
	}, time.Minute))

	challenge, err := store.LoadChallenge(ctx, "Cook@example.com")
	require.NoError(t, err)
	require.NotNil(t, challenge)
	assert.Equal(t, 2, challenge.Attempts)
	assert.True(t, expires.Equal(challenge.ExpiresAt))

	require.NoError(t, store.DeleteChallenge(ctx, "cook@example.com"))
	challenge, err = store.LoadChallenge(ctx, "cook@example.com")
	require.NoError(t, err)
	assert.Nil(t, challenge)
}

func TestConnectRedisRejectsBadURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "redis://:bad:url:/x", "", 0)
	assert.ErrorIs(t, err, ErrSessionStore)
}
