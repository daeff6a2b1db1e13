package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
)

const (
	userOperationCacheTTL = 24 * time.Hour
	// attempts of a watched status update before giving up
	maxStatusUpdateAttempts = 10
)

// CacheUserOpStatus is the status of a user operation as seen by the cache
type CacheUserOpStatus string

const (
	CacheStatusPrepared  CacheUserOpStatus = "prepared"
	CacheStatusSubmitted CacheUserOpStatus = "submitted"
	CacheStatusIncluded  CacheUserOpStatus = "included"
	CacheStatusFailed    CacheUserOpStatus = "failed"
)

// UserOperationCacheEntry is what the cache keeps per user operation hash
type UserOperationCacheEntry struct {
	UserOpHash    common.Hash            `json:"user_op_hash"`
	ChainID       int64                  `json:"chain_id"`
	EntryPoint    common.Address         `json:"entry_point"`
	UserOperation *erc4337.UserOperation `json:"user_operation,omitempty"`
	Status        CacheUserOpStatus      `json:"status"`
	Error         string                 `json:"error,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// UserOperationCache keeps recently prepared and submitted user operations in Redis.
// Status updates are WATCH transactions, so instances may share one Redis.
type UserOperationCache struct {
	redis  *redis.Client
	prefix string
}

func NewUserOperationCache(redis *redis.Client, prefix string) *UserOperationCache {
	return &UserOperationCache{
		redis:  redis,
		prefix: prefix,
	}
}

func (c *UserOperationCache) key(userOpHash common.Hash) string {
	return fmt.Sprintf("%s:%s", c.prefix, userOpHash.Hex())
}

// SetPrepared stores a prepared user operation with 24-hour expiration
func (c *UserOperationCache) SetPrepared(ctx context.Context, userOpHash common.Hash, chainId int64, entryPoint common.Address, userOp *erc4337.UserOperation) error {
	return c.set(ctx, &UserOperationCacheEntry{
		UserOpHash:    userOpHash,
		ChainID:       chainId,
		EntryPoint:    entryPoint,
		UserOperation: userOp,
		Status:        CacheStatusPrepared,
	})
}

// GetPrepared returns the cached entry, or nil when the hash is unknown or expired
func (c *UserOperationCache) GetPrepared(ctx context.Context, userOpHash common.Hash) (*UserOperationCacheEntry, error) {
	return c.get(ctx, userOpHash)
}

// SetStatus updates the status of an entry, creating it when missing. The
// update is retried when another client changes the entry concurrently.
func (c *UserOperationCache) SetStatus(ctx context.Context, userOpHash common.Hash, status CacheUserOpStatus, message *string) error {
	key := c.key(userOpHash)

	update := func(tx *redis.Tx) error {
		entry, err := getEntry(ctx, tx, key)
		if err != nil {
			return err
		}
		if entry == nil {
			entry = &UserOperationCacheEntry{UserOpHash: userOpHash}
		}

		entry.Status = status
		entry.Error = ""
		if message != nil {
			entry.Error = *message
		}

		data, err := marshalEntry(entry)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, userOperationCacheTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxStatusUpdateAttempts; attempt++ {
		err := c.redis.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update user operation cache status: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to update user operation cache status: %w", redis.TxFailedErr)
}

// Delete removes the entry for userOpHash
func (c *UserOperationCache) Delete(ctx context.Context, userOpHash common.Hash) error {
	return c.redis.Del(ctx, c.key(userOpHash)).Err()
}

func (c *UserOperationCache) get(ctx context.Context, userOpHash common.Hash) (*UserOperationCacheEntry, error) {
	return getEntry(ctx, c.redis, c.key(userOpHash))
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getEntry(ctx context.Context, r stringGetter, key string) (*UserOperationCacheEntry, error) {
	data, err := r.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user operation cache: %w", err)
	}

	var entry UserOperationCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user operation cache: %w", err)
	}
	return &entry, nil
}

func (c *UserOperationCache) set(ctx context.Context, entry *UserOperationCacheEntry) error {
	data, err := marshalEntry(entry)
	if err != nil {
		return err
	}

	return c.redis.Set(ctx, c.key(entry.UserOpHash), data, userOperationCacheTTL).Err()
}

func marshalEntry(entry *UserOperationCacheEntry) ([]byte, error) {
	entry.UpdatedAt = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user operation cache: %w", err)
	}
	return data, nil
}
