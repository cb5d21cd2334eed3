package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/vectra-player/core/internal/live"
)

func TestConnectWithEmptyURLReturnsNilPublisher(t *testing.T) {
	p, err := Connect(Options{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p != nil {
		t.Fatal("expected nil Publisher when URL is empty")
	}
}

func TestNilPublisherRunReturnsOnCancel(t *testing.T) {
	var p *Publisher
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, func() live.Snapshot { return live.Snapshot{} }) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("nil Publisher.Run did not return after context cancellation")
	}
}

func TestNilPublisherCloseIsNoop(t *testing.T) {
	var p *Publisher
	p.Close()
}
