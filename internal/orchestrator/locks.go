// ABOUTME: Per-farmer exclusive locks with reference-counted entries
// ABOUTME: Serializes turns for one farmer while different farmers run in parallel

package orchestrator

import (
	"context"
	"sync"
)

// farmerLocks hands out one exclusive slot per farmer id. Entries exist only
// while someone holds or waits for them, so the map does not grow with the
// number of farmers ever seen.
type farmerLocks struct {
	mu    sync.Mutex
	locks map[string]*farmerLock
}

type farmerLock struct {
	slot chan struct{}
	refs int
}

func newFarmerLocks() *farmerLocks {
	return &farmerLocks{locks: make(map[string]*farmerLock)}
}

// acquire blocks until the caller owns the farmer's slot or ctx is done.
// The returned release func is safe to call more than once.
func (l *farmerLocks) acquire(ctx context.Context, farmerID string) (func(), error) {
	l.mu.Lock()
	fl, ok := l.locks[farmerID]
	if !ok {
		fl = &farmerLock{slot: make(chan struct{}, 1)}
		l.locks[farmerID] = fl
	}
	fl.refs++
	l.mu.Unlock()

	select {
	case fl.slot <- struct{}{}:
	case <-ctx.Done():
		l.unref(farmerID, fl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-fl.slot
			l.unref(farmerID, fl)
		})
	}, nil
}

func (l *farmerLocks) unref(farmerID string, fl *farmerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fl.refs--
	if fl.refs == 0 {
		delete(l.locks, farmerID)
	}
}

// size reports how many farmers currently hold or wait for a slot.
func (l *farmerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
