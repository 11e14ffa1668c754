package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our token, so a
// pass that outlives its TTL cannot release a lock some other instance now owns.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SchedulerLock implements ports.SchedulerLock using Redis SET NX.
// One lock name per reconciliation pass keeps overlapping runs (two ticks of
// the same scheduler, or two process instances) from working the same batch.
type SchedulerLock struct {
	client *goredis.Client
	prefix string
}

// NewSchedulerLock creates a new Redis-backed scheduler lock.
func NewSchedulerLock(client *goredis.Client) *SchedulerLock {
	return &SchedulerLock{
		client: client,
		prefix: "scheduler-lock:",
	}
}

// Acquire attempts to take the named lock for the TTL. On success it returns
// a release func and true; when the lock is already held it returns false.
func (l *SchedulerLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis scheduler lock acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release runs during shutdown too; don't inherit a canceled context.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
