package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "lock:"

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder cannot release a lock taken over by another instance.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client redis.UniversalClient
}

// NewLockStore creates a new LockStore.
func NewLockStore(client redis.UniversalClient) *LockStore {
	return &LockStore{client: client}
}

// Lock is a held lock.
type Lock struct {
	Name  string
	token string
}

// AcquireLock attempts to take the named lock for ttl.
// Returns nil without error if another holder has it.
func (s *LockStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockPrefix+name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{Name: name, token: token}, nil
}

// ReleaseLock releases a lock taken by AcquireLock.
func (s *LockStore) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{lockPrefix + lock.Name}, lock.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lock.Name, err)
	}
	return nil
}
