package locks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaitExpired is returned when a lock could not be acquired within the
// caller's wait budget.
var ErrWaitExpired = errors.New("lock wait expired")

// KeyedMutex provides per-key mutual exclusion with bounded waits. Locks for
// distinct keys are fully independent; callers for the same key are serialized
// in acquisition order.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Acquire obtains the lock for key, waiting at most wait (or until ctx is
// done, whichever comes first). On success the returned release function must
// be called exactly once.
func (k *KeyedMutex) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	e := k.checkout(key)

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-e.sem
				k.checkin(key, e)
			})
		}
		return release, nil
	case <-ctx.Done():
		k.checkin(key, e)
		return nil, ctx.Err()
	case <-timeout:
		k.checkin(key, e)
		return nil, ErrWaitExpired
	}
}

func (k *KeyedMutex) checkout(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) checkin(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
}

// Len reports how many keys currently have holders or waiters.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
