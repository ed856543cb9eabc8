// Package limiter throttles callers that keep failing authentication or authorisation.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks denied calls per (key, caller) and places temporary blocks.
type Limiter interface {
	// Allow reports whether the caller may proceed and, when blocked, for how long.
	Allow(ctx context.Context, key string, ipHash []byte) (bool, time.Duration, error)
	// Failure records a denied call; it may place a temporary block.
	Failure(ctx context.Context, key string, ipHash []byte) (bool, time.Duration, error)
}
