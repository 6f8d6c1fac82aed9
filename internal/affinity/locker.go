package affinity

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Locker serializes validate-and-claim for workloads sharing an affinity
// group. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// GroupLockKey returns the lock key of an affinity group.
func GroupLockKey(groupID string) string {
	return "affinity-group/" + groupID
}

// LockGroups locks every group in sorted id order, so two callers sharing
// several groups cannot deadlock. On failure nothing stays locked.
func LockGroups(ctx context.Context, locker Locker, groupIDs []string) (func(), error) {
	ids := append([]string(nil), groupIDs...)
	sort.Strings(ids)

	var releases []func()
	unlockAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		release, err := locker.Lock(ctx, GroupLockKey(id))
		if err != nil {
			unlockAll()
			return nil, fmt.Errorf("failed to lock affinity group %s: %w", id, err)
		}
		releases = append(releases, release)
	}
	return unlockAll, nil
}

// LocalLocker is an in-process keyed mutex for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock implements Locker. It honors ctx cancellation while waiting.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.drop(key, kl)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
