package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token   uint64
	expires time.Time
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]entry
	next    uint64
	now     func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]entry), now: time.Now}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.entries[key]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}
	l.next++
	l.entries[key] = entry{token: l.next, expires: now.Add(ttl)}
	return &localLease{locker: l, key: key, token: l.next}, true, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  uint64
}

func (s *localLease) Extend(ctx context.Context, ttl time.Duration) error {
	l := s.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cur, ok := l.entries[s.key]
	if !ok || cur.token != s.token || !now.Before(cur.expires) {
		return ErrLeaseLost
	}
	l.entries[s.key] = entry{token: s.token, expires: now.Add(ttl)}
	return nil
}

// Release is a no-op once another holder took the key over.
func (s *localLease) Release(context.Context) error {
	l := s.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.entries[s.key]; ok && cur.token == s.token {
		delete(l.entries, s.key)
	}
	return nil
}
