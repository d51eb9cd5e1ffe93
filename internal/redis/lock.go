package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

var _ lockClient = (*redis.Client)(nil)

// LockStore serializes status transitions for an order across instances.
type LockStore struct {
	client lockClient
	owner  string
}

// NewLockStore creates a LockStore with a unique owner token for this process.
func NewLockStore(client *redis.Client) *LockStore {
	return newLockStore(client, uuid.NewString())
}

func newLockStore(client lockClient, owner string) *LockStore {
	return &LockStore{client: client, owner: owner}
}

func orderLockKey(orderID string) string {
	return fmt.Sprintf("lock:order:%s:status", orderID)
}

// AcquireOrderLock attempts to take the status lock for the given order.
// Returns false if another holder has it. The lock expires after ttl.
func (s *LockStore) AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, orderLockKey(orderID), s.owner, ttl).Result()
}

// ReleaseOrderLock releases the lock if it has not expired and been taken by someone else.
func (s *LockStore) ReleaseOrderLock(ctx context.Context, orderID string) error {
	err := releaseScript.Run(ctx, s.client, []string{orderLockKey(orderID)}, s.owner).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
