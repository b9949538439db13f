package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is the single-process Locker used when no Redis is configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	seq  uint64
	now  func() time.Time
}

type localEntry struct {
	id      uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, false, nil
	}
	l.seq++
	l.held[key] = localEntry{id: l.seq, expires: now.Add(ttl)}
	return &localLock{locker: l, key: key, id: l.seq}, true, nil
}

type localLock struct {
	locker *LocalLocker
	key    string
	id     uint64
}

func (l *localLock) Unlock(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if e, ok := l.locker.held[l.key]; ok && e.id == l.id {
		delete(l.locker.held, l.key)
	}
	return nil
}
