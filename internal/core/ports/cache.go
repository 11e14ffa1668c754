package ports

import (
	"context"
	"time"
)

// SeenEventCache is the advisory fast-path dedup check for webhook deliveries.
// A miss or an error only means the authoritative database check runs; it can
// never cause a duplicate to be accepted.
type SeenEventCache interface {
	Seen(ctx context.Context, externalEventID string) (bool, error)
	MarkSeen(ctx context.Context, externalEventID string, ttl time.Duration) error
}
