package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethaccount/userop/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*UserOperationCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewUserOperationCache(client, "userop"), mr
}

func TestUserOperationCache_SetGetPrepared(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	userOp := testUserOperation()
	userOpHash := common.HexToHash("0xabc")

	require.NoError(t, cache.SetPrepared(ctx, userOpHash, 1, erc4337.EntryPointV06, userOp))

	entry, err := cache.GetPrepared(ctx, userOpHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, CacheStatusPrepared, entry.Status)
	assert.Equal(t, int64(1), entry.ChainID)
	assert.Equal(t, erc4337.EntryPointV06, entry.EntryPoint)
	assert.Equal(t, userOp, entry.UserOperation)
	assert.False(t, entry.UpdatedAt.IsZero())

	assert.True(t, mr.Exists("userop:"+userOpHash.Hex()))
	assert.Equal(t, 24*time.Hour, mr.TTL("userop:"+userOpHash.Hex()))
}

func TestUserOperationCache_GetPrepared_Missing(t *testing.T) {
	cache, _ := newTestCache(t)

	entry, err := cache.GetPrepared(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestUserOperationCache_Expires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	userOpHash := common.HexToHash("0x02")

	require.NoError(t, cache.SetPrepared(ctx, userOpHash, 1, erc4337.EntryPointV06, testUserOperation()))
	mr.FastForward(25 * time.Hour)

	entry, err := cache.GetPrepared(ctx, userOpHash)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestUserOperationCache_SetStatus(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	userOpHash := common.HexToHash("0x03")

	require.NoError(t, cache.SetPrepared(ctx, userOpHash, 1, erc4337.EntryPointV06, testUserOperation()))

	msg := "AA25 invalid account nonce"
	require.NoError(t, cache.SetStatus(ctx, userOpHash, CacheStatusFailed, &msg))

	entry, err := cache.GetPrepared(ctx, userOpHash)
	require.NoError(t, err)
	assert.Equal(t, CacheStatusFailed, entry.Status)
	assert.Equal(t, msg, entry.Error)
	assert.NotNil(t, entry.UserOperation, "status update keeps the cached operation")

	// Unknown hashes get a fresh entry
	other := common.HexToHash("0x04")
	require.NoError(t, cache.SetStatus(ctx, other, CacheStatusSubmitted, nil))
	entry, err = cache.GetPrepared(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, CacheStatusSubmitted, entry.Status)
	assert.Nil(t, entry.UserOperation)
}

func TestUserOperationCache_SetStatus_SharedRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	userOpHash := common.HexToHash("0x06")

	// two server instances sharing one Redis
	var caches []*UserOperationCache
	for i := 0; i < 2; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		caches = append(caches, NewUserOperationCache(client, "userop"))
	}

	require.NoError(t, caches[0].SetPrepared(ctx, userOpHash, 1, erc4337.EntryPointV06, testUserOperation()))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(cache *UserOperationCache) {
			defer wg.Done()
			errs <- cache.SetStatus(ctx, userOpHash, CacheStatusSubmitted, nil)
		}(caches[i%2])
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	entry, err := caches[1].GetPrepared(ctx, userOpHash)
	require.NoError(t, err)
	assert.Equal(t, CacheStatusSubmitted, entry.Status)
	assert.Equal(t, int64(1), entry.ChainID)
	assert.NotNil(t, entry.UserOperation)
	assert.Equal(t, userOperationCacheTTL, mr.TTL("userop:"+userOpHash.Hex()))
}

func TestUserOperationCache_Delete(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	userOpHash := common.HexToHash("0x05")

	require.NoError(t, cache.SetPrepared(ctx, userOpHash, 1, erc4337.EntryPointV06, testUserOperation()))
	require.NoError(t, cache.Delete(ctx, userOpHash))
	assert.False(t, mr.Exists("userop:"+userOpHash.Hex()))
}
