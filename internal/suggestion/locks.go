package suggestion

import (
	"context"
	"sync"
)

// keyedLocks serialises operations on one suggestion within the process.
// Entries are dropped once nobody holds or waits for them.
type keyedLocks struct {
	mu   sync.Mutex
	held map[int64]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[int64]*keyedLock)}
}

// lock blocks until id is free or ctx is done. The returned func releases it.
func (k *keyedLocks) lock(ctx context.Context, id int64) (func(), error) {
	k.mu.Lock()
	l, ok := k.held[id]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.held[id] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.release(id, l)
		}, nil
	case <-ctx.Done():
		k.release(id, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) release(id int64, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.held, id)
	}
}
