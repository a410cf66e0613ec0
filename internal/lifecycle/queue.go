package lifecycle

import (
	"context"
	"sync"
)

// serialQueue runs entries sharing a key one at a time, in arrival order.
// Entries on different keys do not wait for each other.
type serialQueue struct {
	mu   sync.Mutex
	tail map[int]chan struct{}
}

func newSerialQueue() *serialQueue {
	return &serialQueue{tail: make(map[int]chan struct{})}
}

// enter blocks until every earlier entry for key has left. The returned
// func must be called once the entry is done.
func (q *serialQueue) enter(ctx context.Context, key int) (leave func(), err error) {
	done := make(chan struct{})
	q.mu.Lock()
	prev := q.tail[key]
	q.tail[key] = done
	q.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// keep the chain intact for entries queued behind us
			go func() {
				<-prev
				q.release(key, done)
			}()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(func() { q.release(key, done) }) }, nil
}

func (q *serialQueue) release(key int, done chan struct{}) {
	q.mu.Lock()
	if q.tail[key] == done {
		delete(q.tail, key)
	}
	q.mu.Unlock()
	close(done)
}
