package approval

import (
	"context"
	"time"
)

// InteractionCache is the fast-path reply lookup used by the
// prior-positive-interaction rule. Implemented by cache/redis; a miss
// falls through to the InteractionSource.
type InteractionCache interface {
	// ReplyCount returns the cached reply count for a target within
	// the lookback window. ok is false on a cache miss.
	ReplyCount(ctx context.Context, target string, lookback time.Duration) (count int, ok bool, err error)

	// RecordReplyCount caches a positive finding from the source.
	RecordReplyCount(ctx context.Context, target string, lookback time.Duration, count int) error
}

// InteractionSource is the authoritative (and slow) reply lookup,
// consulted only on a cache miss. Calls must carry their own timeout
// independent of the overall workflow timeout.
type InteractionSource interface {
	// CountReplies returns how many times the target replied since
	// the given time.
	CountReplies(ctx context.Context, target string, since time.Time) (int, error)
}
