package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SeenEventCache is the fast-path deduplication layer for webhook deliveries.
// It is advisory only: PostgreSQL remains the authoritative dedup check, so a
// cache miss or Redis outage costs one extra insert, never a duplicate event.
type SeenEventCache struct {
	client *goredis.Client
	prefix string
}

// NewSeenEventCache creates a new Redis-backed seen-event cache.
func NewSeenEventCache(client *goredis.Client) *SeenEventCache {
	return &SeenEventCache{
		client: client,
		prefix: "seen-event:",
	}
}

// Seen reports whether the external event id was recently ingested.
// Returns false, nil on a miss.
func (c *SeenEventCache) Seen(ctx context.Context, externalEventID string) (bool, error) {
	err := c.client.Get(ctx, c.prefix+externalEventID).Err()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redis seen-event get: %w", err)
	}
	return true, nil
}

// MarkSeen records the external event id with a TTL.
func (c *SeenEventCache) MarkSeen(ctx context.Context, externalEventID string, ttl time.Duration) error {
	err := c.client.Set(ctx, c.prefix+externalEventID, 1, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis seen-event set: %w", err)
	}
	return nil
}
