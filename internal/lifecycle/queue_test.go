package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSerialQueueKeepsArrivalOrderPerKey(t *testing.T) {
	q := newSerialQueue()
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	first, err := q.enter(context.Background(), 1)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		ready := make(chan struct{})
		go func() {
			defer wg.Done()
			close(ready)
			leave, err := q.enter(context.Background(), 1)
			if err != nil {
				t.Errorf("enter: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			leave()
		}()
		<-ready
		// let the goroutine queue up before starting the next one
		time.Sleep(10 * time.Millisecond)
	}
	first()
	wg.Wait()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestSerialQueueIndependentKeys(t *testing.T) {
	q := newSerialQueue()
	leaveA, _ := q.enter(context.Background(), 1)
	defer leaveA()
	done := make(chan struct{})
	go func() {
		leaveB, err := q.enter(context.Background(), 2)
		if err == nil {
			leaveB()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("entry on another key was blocked")
	}
}

func TestSerialQueueCancelledWaiterKeepsChain(t *testing.T) {
	q := newSerialQueue()
	first, _ := q.enter(context.Background(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.enter(ctx, 1); err == nil {
		t.Fatalf("expected context error")
	}
	third := make(chan struct{})
	go func() {
		leave, err := q.enter(context.Background(), 1)
		if err == nil {
			leave()
		}
		close(third)
	}()
	select {
	case <-third:
		t.Fatalf("third entry ran before the first left")
	case <-time.After(20 * time.Millisecond):
	}
	first()
	select {
	case <-third:
	case <-time.After(time.Second):
		t.Fatalf("third entry never ran")
	}
}
