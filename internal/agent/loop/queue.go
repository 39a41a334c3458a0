package loop

import (
	"context"
	"sync"
)

// turnQueue serialises turns per user. Waiters queue on a one-slot channel;
// entries are dropped once nobody references them.
type turnQueue struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

func newTurnQueue() *turnQueue {
	return &turnQueue{locks: make(map[string]*userLock)}
}

// acquire blocks until userID has no turn in flight or ctx is done.
func (q *turnQueue) acquire(ctx context.Context, userID string) (func(), error) {
	q.mu.Lock()
	l, ok := q.locks[userID]
	if !ok {
		l = &userLock{sem: make(chan struct{}, 1)}
		q.locks[userID] = l
	}
	l.refs++
	q.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.sem
				q.unref(userID, l)
			})
		}, nil
	case <-ctx.Done():
		q.unref(userID, l)
		return nil, ctx.Err()
	}
}

func (q *turnQueue) unref(userID string, l *userLock) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(q.locks, userID)
	}
}

func (q *turnQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.locks)
}
