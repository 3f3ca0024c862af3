// Package lease provides a best-effort mutual exclusion token with a TTL. The
// scheduler uses it so that only one instance scans for due subscriptions at a time.
package lease

import (
	"context"
	"time"
)

type Locker interface {
	// Acquire returns ok=false without error when someone else holds key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release drops key only if it is still held with token.
	Release(ctx context.Context, key, token string) error
}
