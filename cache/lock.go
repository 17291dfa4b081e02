package cache

import (
	"context"
	"strconv"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// KeyedLock serializes callers per key. Entries are reference counted and
// dropped once no caller holds or waits for them.
//
// The method cache, the HTTP middleware and phoenix refreshes share one
// KeyedLock so that at most one of them computes or writes a key at a time.
type KeyedLock struct {
	locks *xsync.MapOf[string, *keyLock]
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: xsync.NewMapOf[string, *keyLock]()}
}

// LockKey names the lock of key in the store with storeID.
func LockKey(storeID int, key string) string {
	return strconv.Itoa(storeID) + "|" + key
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and is safe to call more than once.
func (l *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	kl, _ := l.locks.Compute(key, func(kl *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			kl = &keyLock{sem: make(chan struct{}, 1)}
		}
		kl.refs++
		return kl, false
	})

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key)
		})
	}, nil
}

func (l *KeyedLock) release(key string) {
	l.locks.Compute(key, func(kl *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			return kl, true
		}
		kl.refs--
		return kl, kl.refs <= 0
	})
}

// Len counts keys currently held or waited on.
func (l *KeyedLock) Len() int {
	return l.locks.Size()
}
