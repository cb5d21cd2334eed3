package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vectra-player/core/internal/bus"
)

// fakeTransport replays a fixed list of frames then blocks until closed.
type fakeTransport struct {
	mu     sync.Mutex
	frames []string
	idx    int
	closed bool
	wake   chan struct{}
}

func newFakeTransport(frames []string) *fakeTransport {
	return &fakeTransport{frames: frames, wake: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() (string, error) {
	f.mu.Lock()
	if f.idx < len(f.frames) {
		msg := f.frames[f.idx]
		f.idx++
		f.mu.Unlock()
		return msg, nil
	}
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return "", errClosed
	}
	<-f.wake
	return "", errClosed
}

func (f *fakeTransport) WriteMessage(string) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	alreadyClosed := f.closed
	f.closed = true
	f.mu.Unlock()
	if !alreadyClosed {
		close(f.wake)
	}
	return nil
}

var errClosed = fmtErrorf("fake transport closed")

func fmtErrorf(s string) error { return &simpleErr{s} }

type simpleErr struct{ s string }

func (e *simpleErr) Error() string { return e.s }

func newRunningBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(func() {
		b.Stop(time.Second)
		cancel()
	})
	return b
}

func TestHandleFrameEmitsTickAndGameStart(t *testing.T) {
	b := newRunningBus(t)

	var ticks, starts int
	var mu sync.Mutex
	subTick := b.Subscribe(bus.GameTick, func(bus.Event) { mu.Lock(); ticks++; mu.Unlock() })
	subStart := b.Subscribe(bus.GameStart, func(bus.Event) { mu.Lock(); starts++; mu.Unlock() })
	defer func() { _, _ = subTick, subStart }()

	g := New(Options{URL: "ws://test", RugPairWindowMs: 500}, b)
	g.handleFrame(`42["gameStateUpdate",{"gameId":"g1","active":true,"rugged":false,"tickCount":1,"price":1.5,"cooldownTimer":0,"allowPreRoundBuys":false}]`)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := ticks == 1 && starts == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if ticks != 1 {
		t.Fatalf("expected 1 GAME_TICK, got %d", ticks)
	}
	if starts != 1 {
		t.Fatalf("expected 1 GAME_START, got %d", starts)
	}
}

func TestHandleFrameRugEmitsRugDetectedAndGameEnd(t *testing.T) {
	b := newRunningBus(t)

	var rugs, ends int
	var mu sync.Mutex
	subRug := b.Subscribe(bus.RugDetected, func(bus.Event) { mu.Lock(); rugs++; mu.Unlock() })
	subEnd := b.Subscribe(bus.GameEnd, func(bus.Event) { mu.Lock(); ends++; mu.Unlock() })
	defer func() { _, _ = subRug, subEnd }()

	g := New(Options{URL: "ws://test", RugPairWindowMs: 500}, b)
	g.handleFrame(`42["gameStateUpdate",{"gameId":"g1","active":true,"rugged":false,"tickCount":1,"price":1.0,"cooldownTimer":0}]`)
	g.handleFrame(`42["gameStateUpdate",{"gameId":"g1","active":false,"rugged":true,"tickCount":2,"price":0.0,"cooldownTimer":0}]`)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := rugs == 1 && ends == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if rugs != 1 || ends != 1 {
		t.Fatalf("expected exactly one RUG_DETECTED and one GAME_END, got %d/%d", rugs, ends)
	}
}

func TestUnknownEventStillPublishedAsRawEvent(t *testing.T) {
	b := newRunningBus(t)

	var raws int
	var mu sync.Mutex
	sub := b.Subscribe(bus.WSRawEvent, func(bus.Event) { mu.Lock(); raws++; mu.Unlock() })
	defer func() { _ = sub }()

	g := New(Options{URL: "ws://test"}, b)
	g.handleFrame(`42["someUnknownEvent",{"foo":"bar"}]`)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := raws == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if raws != 1 {
		t.Fatalf("expected unknown event recorded as WS_RAW_EVENT, got %d", raws)
	}
}

func TestRunConnectsReadsAndExitsOnContextCancel(t *testing.T) {
	b := newRunningBus(t)
	ft := newFakeTransport([]string{
		`42["gameStateUpdate",{"gameId":"g1","active":true,"rugged":false,"tickCount":1,"price":1.0,"cooldownTimer":0}]`,
	})

	g := New(Options{
		URL: "ws://test",
		Dial: func(ctx context.Context, url string) (Transport, error) {
			return ft, nil
		},
	}, b)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected clean exit on context cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}

	if g.Counters().TotalSignals != 1 {
		t.Fatalf("expected 1 total signal processed, got %d", g.Counters().TotalSignals)
	}
}
