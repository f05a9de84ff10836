package service

import (
	"context"
	"sync"
)

// cardLocks serializes work per normalized card id. Entries are dropped once nobody holds
// or waits for them.
type cardLocks struct {
	mu    sync.Mutex
	locks map[string]*cardLock
}

type cardLock struct {
	sem  chan struct{}
	refs int
}

// lock blocks until the card is free or ctx is done. A free card is always taken, even
// with a finished ctx, so callers see their own context errors downstream.
func (l *cardLocks) lock(ctx context.Context, cardID string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*cardLock)
	}
	entry, ok := l.locks[cardID]
	if !ok {
		entry = &cardLock{sem: make(chan struct{}, 1)}
		l.locks[cardID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	unlock := func() {
		<-entry.sem
		l.release(cardID, entry)
	}
	select {
	case entry.sem <- struct{}{}:
		return unlock, nil
	default:
	}
	select {
	case entry.sem <- struct{}{}:
		return unlock, nil
	case <-ctx.Done():
		l.release(cardID, entry)
		return nil, ctx.Err()
	}
}

func (l *cardLocks) release(cardID string, entry *cardLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, cardID)
	}
}

// held reports how many card ids currently have a holder or waiter.
func (l *cardLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
