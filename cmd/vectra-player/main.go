// Command vectra-player is the VECTRA-PLAYER core service entry point:
// it wires the Event Bus, Game State, Recorder, Data-Integrity Monitor,
// Server-Truth Reconciler, Feed Ingestor, Event Store, Live-State
// Provider, and the optional metrics/telemetry exporters together, then
// runs until signaled.
//
// Grounded on the teacher's cmd/feedsim/main.go: config.Load() first,
// a cancelable root context wired to SIGINT/SIGTERM, components
// constructed in dependency order with explicit error checks, each
// long-running piece launched as its own goroutine, and a trailing
// graceful-shutdown path for the HTTP server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vectra-player/core/internal/bridge"
	"github.com/vectra-player/core/internal/bus"
	"github.com/vectra-player/core/internal/config"
	"github.com/vectra-player/core/internal/feed"
	"github.com/vectra-player/core/internal/gamestate"
	"github.com/vectra-player/core/internal/integrity"
	"github.com/vectra-player/core/internal/live"
	"github.com/vectra-player/core/internal/metrics"
	"github.com/vectra-player/core/internal/reconcile"
	"github.com/vectra-player/core/internal/recorder"
	"github.com/vectra-player/core/internal/store"
	"github.com/vectra-player/core/internal/telemetry"
	"github.com/vectra-player/core/internal/trade"
)

// Exit codes per §6: 0 clean, 1 fatal startup, 2 config error, 3
// unrecoverable upstream error.
const (
	exitOK             = 0
	exitFatalStartup   = 1
	exitConfigError    = 2
	exitUpstreamFailed = 3
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(exitConfigError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	if cfg.SessionTimeLimit > 0 {
		sessionTimer := time.AfterFunc(cfg.SessionTimeLimit, func() {
			log.Printf("session time limit %s reached, shutting down...", cfg.SessionTimeLimit)
			cancel()
		})
		defer sessionTimer.Stop()
	}

	log.Println("vectra-player starting")

	b := bus.New(cfg.RingBufferSize)
	b.SetPublishHook(metrics.RecordPublish)
	go b.Run(ctx)

	game := gamestate.New(cfg.InitialBalance, cfg.SidebetMultiplier, b)
	tradeMgr := trade.New(game, b, bridge.NoOp{}, cfg)
	_ = tradeMgr // exposed to an execution surface outside this package's scope

	eventStore := store.New(store.Options{
		RootDir:     cfg.DataDir,
		FlushRows:   cfg.ParquetFlushRows,
		FlushPeriod: cfg.ParquetFlushPeriod,
	}, b)
	sessionID, err := eventStore.Start()
	if err != nil {
		log.Printf("event store startup failed: %v", err)
		os.Exit(exitFatalStartup)
	}
	log.Printf("event store started, session=%s data-dir=%s", sessionID, cfg.DataDir)

	checkpoint, err := store.NewCheckpoint(ctx, cfg.MongoURI)
	if err != nil {
		log.Printf("checkpoint store connection failed: %v", err)
		os.Exit(exitFatalStartup)
	}
	defer checkpoint.Close(context.Background())
	if err := checkpoint.Migrate(ctx); err != nil {
		log.Printf("checkpoint migration failed: %v", err)
		os.Exit(exitFatalStartup)
	}

	reconciler := reconcile.New(reconcile.Tolerances{
		Balance:     cfg.MinBet,
		PositionQty: cfg.MinBet,
	}, game, b, checkpoint)

	rec := recorder.New(cfg.SessionGameLimit, recorder.Callbacks{
		OnGameRecorded: func(gamesRecorded int) {
			log.Printf("recorder: game recorded, total=%d", gamesRecorded)
		},
		OnGameDiscarded: func() {
			log.Printf("recorder: game discarded due to integrity trigger")
		},
		OnSessionComplete: func(gamesRecorded int) {
			log.Printf("recorder: session complete, games=%d", gamesRecorded)
			summary := store.SessionSummaryDoc{
				SessionID:     sessionID,
				StartedAt:     time.Now(),
				EndedAt:       time.Now(),
				CountsPerDoc:  countsAsInt64(eventStore.Counts()),
				CleanShutdown: true,
				GamesRecorded: gamesRecorded,
			}
			if err := checkpoint.SaveSessionSummary(context.Background(), summary); err != nil {
				log.Printf("checkpoint: save session summary failed: %v", err)
			}
			cancel()
		},
	})
	rec.StartSession()

	integrityGate := recorder.IntegrityGate(rec)
	integrityMon := integrity.New(cfg.IntegrityThresholdType, cfg.IntegrityThresholdValue, integrity.Callbacks{
		OnThresholdExceeded: func(kind integrity.TriggerKind, details string) {
			log.Printf("integrity: triggered kind=%s details=%s", kind, details)
			metrics.RecordIntegrityTrigger(string(kind))
			integrityGate.OnThresholdExceeded(kind, details)
		},
		OnRecovery: func() {
			log.Println("integrity: recovered after one clean game")
		},
	})

	liveMgr := live.New(live.DefaultThresholds(), game, reconciler, b)

	ingestor := feed.New(feed.Options{
		URL:             cfg.UpstreamURL,
		RateLimit:       float64(cfg.RateLimit),
		RugPairWindowMs: uint64(cfg.RugPairWindow.Milliseconds()),
	}, b)

	busSubs := wireBusSubscriptions(b, game, rec, integrityMon, liveMgr, reconciler)
	defer runtime.KeepAlive(busSubs)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := liveMgr.Evaluate(ingestor.Counters())
				metrics.RecordOperatingMode(snap.OperatingMode)
				metrics.RecordFeedCounters(ingestor.Counters())
				metrics.RecordBusStats(b.Stats())
			}
		}
	}()

	telemetryPub, err := telemetry.Connect(telemetry.Options{URL: cfg.NATSUrl})
	if err != nil {
		log.Printf("telemetry: connect failed: %v", err)
	}
	defer telemetryPub.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return metrics.Serve(gctx, cfg.MetricsAddr)
	})

	g.Go(func() error {
		return telemetryPub.Run(gctx, liveMgr.Snapshot)
	})

	g.Go(func() error {
		err := ingestor.Run(gctx)
		if err != nil {
			log.Printf("feed: fatal: %v", err)
		}
		return err
	})

	runErr := g.Wait()

	wg.Wait()

	log.Println("stopping event store")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := eventStore.Stop(shutdownCtx); err != nil {
		log.Printf("event store shutdown error: %v", err)
	}

	if runErr != nil {
		log.Printf("vectra-player stopped with error: %v", runErr)
		os.Exit(exitUpstreamFailed)
	}

	log.Println("vectra-player stopped")
	os.Exit(exitOK)
}

// wireBusSubscriptions connects the Feed Ingestor's typed events to
// GameState, the Recorder, and the Data-Integrity Monitor the way the
// teacher's session.Manager reacts to inbound connection events —
// explicit handlers per event type, each holding no more state than the
// single value it needs to thread to the next call.
//
// The returned subscriptions must be kept alive by the caller: the bus
// holds only weak references, so letting these go out of scope would
// silently unsubscribe every handler below.
func wireBusSubscriptions(b *bus.Bus, game *gamestate.GameState, rec *recorder.Recorder, integrityMon *integrity.Monitor, liveMgr *live.Manager, reconciler *reconcile.Reconciler) []*bus.Subscription {
	var mu sync.Mutex
	var haveLastTick bool
	var lastTick uint64
	gameClean := true

	subs := make([]*bus.Subscription, 0, 5)

	subs = append(subs, b.Subscribe(bus.GameTick, func(ev bus.Event) {
		sig, ok := ev.Payload.(feed.GameSignal)
		if !ok {
			return
		}
		liveMgr.OnSignal(time.UnixMilli(int64(sig.TimestampMs)))

		mu.Lock()
		if haveLastTick && sig.Tick > lastTick+1 {
			integrityMon.OnTickGap(int(sig.Tick - lastTick))
		}
		lastTick = sig.Tick
		haveLastTick = true
		if !sig.IsValid {
			gameClean = false
		}
		mu.Unlock()

		tick := sig.Tick
		price := sig.Price
		ph := sig.Phase
		game.Update(gamestate.Patch{Tick: &tick, Price: &price, Phase: &ph})
	}))

	subs = append(subs, b.Subscribe(bus.GameStart, func(bus.Event) {
		mu.Lock()
		gameClean = true
		haveLastTick = false
		mu.Unlock()
		rec.GameStart()
	}))

	subs = append(subs, b.Subscribe(bus.GameEnd, func(bus.Event) {
		mu.Lock()
		clean := gameClean
		mu.Unlock()
		integrityMon.OnGameEnded(clean)
		rec.GameEnd()
	}))

	subs = append(subs, b.Subscribe(bus.Reconnected, func(bus.Event) {
		integrityMon.OnConnectionRestored()
		liveMgr.OnReconnected()
	}))

	subs = append(subs, b.Subscribe(bus.DataIntegrityIssue, func(bus.Event) {
		integrityMon.OnConnectionLost()
		liveMgr.OnDisconnected(time.Now())
	}))

	subs = append(subs, b.Subscribe(bus.UsernameStatusReceived, func(ev bus.Event) {
		u, ok := ev.Payload.(feed.UsernameStatus)
		if !ok {
			return
		}
		reconciler.OnUsernameStatus(reconcile.UsernameStatus{ID: u.ID, Username: u.Username, HasUsername: u.HasUsername})
	}))

	subs = append(subs, b.Subscribe(bus.PlayerUpdateReceived, func(ev bus.Event) {
		u, ok := ev.Payload.(feed.PlayerUpdate)
		if !ok {
			return
		}
		reconciler.OnPlayerUpdate(reconcile.PlayerUpdate{
			Cash:          u.Cash,
			CumulativePnL: u.CumulativePnL,
			PositionQty:   u.PositionQty,
			AvgCost:       u.AvgCost,
			TotalInvested: u.TotalInvested,
		})
	}))

	return subs
}

func countsAsInt64(counts map[store.DocType]uint64) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for k, v := range counts {
		out[string(k)] = int64(v)
	}
	return out
}
