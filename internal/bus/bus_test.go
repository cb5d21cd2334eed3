package bus

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"
)

func newRunningBus(t *testing.T, capacity int) (*Bus, context.CancelFunc) {
	t.Helper()
	b := New(capacity)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	return b, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestPublishSubscribeOrdering(t *testing.T) {
	b, cancel := newRunningBus(t, 10)
	defer cancel()

	var mu sync.Mutex
	var got []int
	sub := b.Subscribe(GameTick, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Payload.(int))
		mu.Unlock()
	})
	_ = sub

	for i := 0; i < 5; i++ {
		if err := b.Publish(GameTick, i); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order delivery: got %v", got)
		}
	}
}

func TestQueueFullDropsAndCounts(t *testing.T) {
	b := New(1)
	// No Run goroutine: nothing drains the queue, so it saturates immediately.
	if err := b.Publish(GameTick, 1); err != nil {
		t.Fatalf("first publish should succeed: %v", err)
	}
	if err := b.Publish(GameTick, 2); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if got := b.Stats().Dropped; got != 1 {
		t.Fatalf("expected 1 dropped event, got %d", got)
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	b, cancel := newRunningBus(t, 10)
	defer cancel()

	var calledSecond bool
	var mu sync.Mutex
	subA := b.Subscribe(GameTick, func(Event) { panic("boom") })
	subB := b.Subscribe(GameTick, func(Event) {
		mu.Lock()
		calledSecond = true
		mu.Unlock()
	})
	_, _ = subA, subB

	if err := b.Publish(GameTick, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calledSecond
	})

	if got := b.Stats().SubscriberErrors; got != 1 {
		t.Fatalf("expected 1 subscriber error, got %d", got)
	}
}

func TestReentrantPublishDoesNotDeadlock(t *testing.T) {
	b, cancel := newRunningBus(t, 10)
	defer cancel()

	done := make(chan struct{})
	sub := b.Subscribe(GameStart, func(Event) {
		_ = b.Publish(GameEnd, nil)
		close(done)
	})
	_ = sub

	if err := b.Publish(GameStart, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant publish deadlocked")
	}
}

func TestWeakSubscriptionExpiresWithoutUnsubscribe(t *testing.T) {
	b, cancel := newRunningBus(t, 10)
	defer cancel()

	func() {
		sub := b.Subscribe(GameTick, func(Event) {})
		_ = sub
		if !b.HasSubscribers(GameTick) {
			t.Fatal("expected live subscriber while token is reachable")
		}
	}()

	runtime.GC()
	runtime.GC()

	// Dispatching at least once lets the bus lazily drop the expired entry.
	_ = b.Publish(GameTick, nil)
	waitFor(t, func() bool { return !b.HasSubscribers(GameTick) })
}

func TestUnsubscribeByIdentity(t *testing.T) {
	b, cancel := newRunningBus(t, 10)
	defer cancel()

	sub := b.Subscribe(GameTick, func(Event) {})
	if !b.HasSubscribers(GameTick) {
		t.Fatal("expected subscriber")
	}
	b.Unsubscribe(sub)
	if b.HasSubscribers(GameTick) {
		t.Fatal("expected no subscribers after unsubscribe")
	}
}

func TestStopDrainsThenJoins(t *testing.T) {
	b := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	var mu sync.Mutex
	var count int
	sub := b.Subscribe(GameTick, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	_ = sub

	for i := 0; i < 3; i++ {
		_ = b.Publish(GameTick, i)
	}

	b.Stop(3 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("expected all 3 queued events drained before shutdown, got %d", count)
	}
}
