package launchctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Stop()
	ctx := context.Background()

	entry, err := store.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "absent entry yields nil, not an error")

	require.NoError(t, store.Put(ctx, Entry{TokenID: "jti-1", PatientID: "123"}))

	entry, err = store.Get(ctx, "jti-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "123", entry.PatientID)
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Entry{TokenID: "jti-1", PatientID: "123"}))
	require.NoError(t, store.Put(ctx, Entry{TokenID: "jti-1", PatientID: "456"}))

	entry, err := store.Get(ctx, "jti-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "456", entry.PatientID, "last writer wins")
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Entry{TokenID: "jti-1", PatientID: "123"}))
	assert.Eventually(t, func() bool {
		entry, err := store.Get(ctx, "jti-1")
		return err == nil && entry == nil
	}, time.Second, 10*time.Millisecond)
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate())

	invalidBackend := valid
	invalidBackend.Backend = "dynamo"
	assert.Error(t, invalidBackend.Validate())

	redisWithoutAddress := valid
	redisWithoutAddress.Backend = "redis"
	assert.Error(t, redisWithoutAddress.Validate())

	redisWithAddress := redisWithoutAddress
	redisWithAddress.Redis.Address = "localhost:6379"
	assert.NoError(t, redisWithAddress.Validate())

	zeroTTL := valid
	zeroTTL.TTL = 0
	assert.Error(t, zeroTTL.Validate())
}
