package schedule

import (
	"context"
	"sync"
	"time"
)

// Task runs a function immediately and then again interval after each run
// returns. The delay is fixed; a slow or failing run never shortens it.
type Task struct {
	clock    Clock
	interval time.Duration
	fn       func(ctx context.Context)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	timer     Timer
	cancelled bool
	once      sync.Once
}

// Every starts a Task. The context handed to fn is cancelled by Cancel so an
// in-flight run can abort its network call.
func Every(clock Clock, interval time.Duration, fn func(ctx context.Context)) *Task {
	if clock == nil {
		clock = System()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{clock: clock, interval: interval, fn: fn, ctx: ctx, cancel: cancel}
	t.mu.Lock()
	t.timer = clock.AfterFunc(0, t.fire)
	t.mu.Unlock()
	return t
}

func (t *Task) fire() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.fn(t.ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.timer = t.clock.AfterFunc(t.interval, t.fire)
}

// Cancel stops the pending run and aborts a run in progress. Safe to call
// more than once.
func (t *Task) Cancel() {
	t.once.Do(func() {
		t.mu.Lock()
		t.cancelled = true
		if t.timer != nil {
			t.timer.Stop()
		}
		t.mu.Unlock()
		t.cancel()
	})
}

func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
