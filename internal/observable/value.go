package observable

import "sync"

// Value holds a current value and notifies subscribers on every Set.
// Notifications are delivered in Set order. A subscriber must not call Set on
// the same Value.
type Value[T any] struct {
	mu     sync.RWMutex
	v      T
	nextID int
	subs   map[int]func(T)

	notifyMu sync.Mutex
}

func New[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, subs: make(map[int]func(T))}
}

func (o *Value[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.v
}

func (o *Value[T]) Set(v T) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	o.v = v
	subs := make([]func(T), 0, len(o.subs))
	for id := 0; id < o.nextID; id++ {
		if fn, ok := o.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers fn and returns a function that removes it. fn is not
// called with the current value; use Get for that.
func (o *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}
