package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vectra-player/core/internal/bus"
)

func newTestBus(t *testing.T) (*bus.Bus, context.CancelFunc) {
	t.Helper()
	b := bus.New(100)
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

func TestStoreFlushesOnBufferSize(t *testing.T) {
	dir := t.TempDir()
	b, cancel := newTestBus(t)
	defer cancel()

	s := New(Options{RootDir: dir, FlushRows: 3, FlushPeriod: time.Hour}, b)
	sessionID, err := s.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected non-empty session id")
	}

	for i := 0; i < 5; i++ {
		_ = b.Publish(bus.GameTick, map[string]int{"tick": i})
	}

	waitFor(t, func() bool { return s.Counts()[DocGameTick] == 5 })

	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "events_parquet", "doc_type=game_tick", "date=*", "*.parquet"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one parquet file written")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	manifestPath := filepath.Join(dir, "session_"+sessionID+".json")
	if _, err := os.Stat(manifestPath); err != nil {
		t.Fatalf("expected manifest at %s: %v", manifestPath, err)
	}
}

func TestStoreSeqMonotonicAcrossDocTypes(t *testing.T) {
	dir := t.TempDir()
	b, cancel := newTestBus(t)
	defer cancel()

	s := New(Options{RootDir: dir, FlushRows: 1000, FlushPeriod: time.Hour}, b)
	if _, err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = b.Publish(bus.GameTick, map[string]int{"tick": 1})
	_ = b.Publish(bus.TradeBuy, map[string]string{"x": "y"})
	_ = b.Publish(bus.GameTick, map[string]int{"tick": 2})

	waitFor(t, func() bool {
		c := s.Counts()
		return c[DocGameTick] == 2 && c[DocTrade] == 1
	})

	// session-start system row already consumed seq 1, so the three
	// published events occupy seq 2..4 in publish order.
	if got := s.seq.Load(); got != 4 {
		t.Fatalf("expected seq counter at 4 after 3 events + session-start row, got %d", got)
	}
}

func TestRotateAsidePartials(t *testing.T) {
	dir := t.TempDir()
	partialDir := filepath.Join(dir, "events_parquet", "doc_type=game_tick", "date=2026-01-01")
	if err := os.MkdirAll(partialDir, 0o755); err != nil {
		t.Fatal(err)
	}
	tmpFile := filepath.Join(partialDir, "abc_1.parquet.tmp")
	if err := os.WriteFile(tmpFile, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := rotateAsidePartials(dir); err != nil {
		t.Fatalf("rotateAsidePartials: %v", err)
	}

	if _, err := os.Stat(tmpFile); !os.IsNotExist(err) {
		t.Fatal("expected original .tmp file to be renamed away")
	}

	matches, err := filepath.Glob(filepath.Join(partialDir, "*.partial-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one rotated-aside file, got %d", len(matches))
	}
}
