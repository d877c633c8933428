package artifact

import (
	"context"
	"sync"
)

// ItemLocks serializes all work on a single item across stages: stage
// execution, state commits, artifact finalization, directory scans, and GC
// all run under the item's lock. The pipeline runs on a single host, so
// the lock is an in-process keyed mutex rather than a cross-host lease.
type ItemLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewItemLocks creates an empty lock table.
func NewItemLocks() *ItemLocks {
	return &ItemLocks{locks: make(map[string]chan struct{})}
}

func (l *ItemLocks) ch(itemID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[itemID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[itemID] = ch
	}
	return ch
}

// Acquire takes the item's lock, honoring ctx cancellation. The returned
// release function must be called exactly once.
func (l *ItemLocks) Acquire(ctx context.Context, itemID string) (release func(), err error) {
	ch := l.ch(itemID)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the lock only if it is free.
func (l *ItemLocks) TryAcquire(itemID string) (release func(), ok bool) {
	ch := l.ch(itemID)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}

// With runs fn while holding the item's lock. This is the check-and-act
// primitive: callers must never test file existence outside of it.
func (l *ItemLocks) With(ctx context.Context, itemID string, fn func() error) error {
	release, err := l.Acquire(ctx, itemID)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Held reports whether the item's lock is currently taken. For tests and
// health reporting only; never use it for synchronization decisions.
func (l *ItemLocks) Held(itemID string) bool {
	ch := l.ch(itemID)
	return len(ch) == 1
}
