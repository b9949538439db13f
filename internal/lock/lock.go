package lock

import (
	"context"
	"time"
)

type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker hands out exclusive, expiring locks. TryLock never blocks: ok is
// false when the key is already held.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error)
}
