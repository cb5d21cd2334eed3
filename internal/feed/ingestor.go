// Package feed implements the Feed Ingestor (§4.3): a Socket.IO client
// over WebSocket with reconnect/backoff, a catch-all listener that
// records every event (known or unknown) onto the bus, a priority-aware
// rate limiter, and the counters the Live-State Provider consumes.
//
// Grounded on the teacher's internal/session client connection handling
// (gorilla/websocket framing, buffered send/receive) generalized from a
// server-side fan-out connection to an outbound reconnecting client.
// Reconnect-backoff jitter uses math/rand/v2 directly — no repo in the
// retrieval pack ships an RNG whose concern is jitter rather than market
// simulation, so there is nothing domain-specific to wire here.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vectra-player/core/internal/bus"
	"github.com/vectra-player/core/internal/feed/socketio"
	"github.com/vectra-player/core/internal/phase"
)

// LargeGapThreshold is the inter-tick interval (§4.3 point 2) beyond
// which the latency baseline is reset and spike accounting is skipped
// for that sample.
const LargeGapThreshold = 5 * time.Second

// HandshakeTimeout bounds the initial connect per §5 ("connect has a
// 20s handshake timeout").
const HandshakeTimeout = 20 * time.Second

var ErrMaxReconnectAttemptsExceeded = errors.New("feed: max reconnect attempts exceeded")

// Transport abstracts the wire connection so the reconnect/backoff and
// framing logic can be tested without a live socket.
type Transport interface {
	ReadMessage() (string, error)
	WriteMessage(msg string) error
	Close() error
}

// Dialer opens a Transport to url, honoring ctx for cancellation/timeout.
type Dialer func(ctx context.Context, url string) (Transport, error)

// DialWebSocket is the production Dialer, backed by gorilla/websocket.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() (string, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *wsTransport) WriteMessage(msg string) error {
	return t.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (t *wsTransport) Close() error { return t.conn.Close() }

// Counters mirrors the §4.3 point 7 bookkeeping.
type Counters struct {
	TotalSignals     uint64
	Ticks            uint64
	Games            uint64
	RateLimited      uint64
	LatencySpikes    uint64
	Errors           uint64
	PhaseTransitions uint64
	Anomalies        uint64
}

// Options configures an Ingestor.
type Options struct {
	URL              string
	RateLimit        float64 // signals per second
	RugPairWindowMs  uint64
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	MaxAttempts      int
	Dial             Dialer
	Now              func() time.Time
}

// Ingestor is the Feed Ingestor.
type Ingestor struct {
	opts Options
	bus  *bus.Bus

	limiter *rate.Limiter

	mu                 sync.Mutex
	phaseState         phase.State
	lastSignalAtMs     uint64
	haveLastSignal     bool
	baselineIntervalMs uint64

	counters Counters
	now      func() time.Time
}

// New constructs an Ingestor publishing to b.
func New(opts Options, b *bus.Bus) *Ingestor {
	if opts.BackoffMin == 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 10 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 10
	}
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = 20
	}
	return &Ingestor{
		opts:       opts,
		bus:        b,
		limiter:    rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		phaseState: phase.NewState(opts.RugPairWindowMs),
		now:        nowFn,
	}
}

// Counters returns a snapshot of the §4.3 point 7 counters.
func (g *Ingestor) Counters() Counters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counters
}

// Run drives the connect/read/reconnect loop until ctx is canceled or the
// reconnect budget (§4.3 "up to 10 attempts") is exhausted.
func (g *Ingestor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		transport, err := g.opts.Dial(ctx, g.opts.URL)
		if err != nil {
			attempt++
			g.mu.Lock()
			g.counters.Errors++
			g.mu.Unlock()
			if attempt > g.opts.MaxAttempts {
				return ErrMaxReconnectAttemptsExceeded
			}
			if !g.sleepBackoff(ctx, attempt) {
				return nil
			}
			continue
		}

		if attempt > 0 {
			g.onReconnected()
		}
		attempt = 0

		err = g.readLoop(ctx, transport)
		transport.Close()
		if err == nil {
			return nil // clean shutdown requested via ctx
		}

		log.Printf("feed: connection lost: %v", err)
		g.mu.Lock()
		g.counters.Errors++
		g.mu.Unlock()
		if g.bus != nil {
			g.bus.Publish(bus.DataIntegrityIssue, "connection lost")
		}

		attempt++
		if attempt > g.opts.MaxAttempts {
			return ErrMaxReconnectAttemptsExceeded
		}
		if !g.sleepBackoff(ctx, attempt) {
			return nil
		}
	}
}

func (g *Ingestor) sleepBackoff(ctx context.Context, attempt int) bool {
	backoff := g.opts.BackoffMin * time.Duration(1<<uint(attempt-1))
	if backoff > g.opts.BackoffMax {
		backoff = g.opts.BackoffMax
	}
	jitterMs := rand.IntN(int(backoff.Milliseconds()/4) + 1)
	wait := backoff + time.Duration(jitterMs)*time.Millisecond

	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// onReconnected implements §4.3 "Reconnection": re-subscribe (left to
// the caller, which re-enters the read loop fresh), reset latency
// baseline, clear pairing state, emit reconnected on the bus.
func (g *Ingestor) onReconnected() {
	g.mu.Lock()
	g.haveLastSignal = false
	g.baselineIntervalMs = 0
	g.phaseState = g.phaseState.Reset()
	g.mu.Unlock()

	if g.bus != nil {
		g.bus.Publish(bus.Reconnected, nil)
	}
}

func (g *Ingestor) readLoop(ctx context.Context, t Transport) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-done:
		}
	}()

	for {
		raw, err := t.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		g.handleFrame(raw)
	}
}

func (g *Ingestor) handleFrame(raw string) {
	receivedAt := g.now()
	receivedAtMs := uint64(receivedAt.UnixMilli())

	frame, err := socketio.Decode(raw)
	if err != nil {
		g.mu.Lock()
		g.counters.Anomalies++
		g.mu.Unlock()
		return
	}

	if frame.Event == "" {
		return // Engine.IO heartbeat/control frame, not a Socket.IO event
	}

	critical := isCriticalEvent(frame.Event, frame.Data)

	if g.bus != nil {
		g.bus.Publish(bus.WSRawEvent, RawEvent{Event: frame.Event, Data: frame.Data, ReceivedAtMs: receivedAtMs})
	}

	if !critical {
		if !g.limiter.Allow() {
			g.mu.Lock()
			g.counters.RateLimited++
			g.mu.Unlock()
			return
		}
	}

	switch frame.Event {
	case "usernameStatus":
		g.handleUsernameStatus(frame.Data)
		return
	case "playerUpdate":
		g.handlePlayerUpdate(frame.Data)
		return
	case "buyOrder", "sellOrder":
		g.handleTradeConfirm(frame.Data)
		return
	case "gameStateUpdate":
		// handled below
	default:
		return
	}

	g.mu.Lock()
	g.counters.TotalSignals++
	if g.haveLastSignal {
		gap := gapMs(receivedAtMs, g.lastSignalAtMs)
		if time.Duration(gap)*time.Millisecond > LargeGapThreshold {
			g.baselineIntervalMs = 0
		} else {
			if g.baselineIntervalMs == 0 {
				g.baselineIntervalMs = gap
			} else if gap > g.baselineIntervalMs*3 {
				g.counters.LatencySpikes++
			}
		}
	}
	g.lastSignalAtMs = receivedAtMs
	g.haveLastSignal = true
	g.mu.Unlock()

	sig, fields, err := ParseGameStateUpdate(frame.Data, receivedAtMs)
	if err != nil {
		g.mu.Lock()
		g.counters.Anomalies++
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	prevPhase := g.phaseState.Phase
	result, nextState := phase.Classify(fields, g.phaseState)
	g.phaseState = nextState
	if result.Phase != prevPhase {
		g.counters.PhaseTransitions++
	}
	if !result.IsValid {
		g.counters.Anomalies++
	}
	g.counters.Ticks++
	g.mu.Unlock()

	sig.Phase = result.Phase
	sig.IsValid = result.IsValid

	if g.bus == nil {
		return
	}
	g.bus.Publish(bus.GameTick, sig)

	switch result.Phase {
	case phase.ActiveGameplay:
		if prevPhase != phase.ActiveGameplay {
			g.mu.Lock()
			g.counters.Games++
			g.mu.Unlock()
			g.bus.Publish(bus.GameStart, sig)
		}
	case phase.RugEvent1:
		g.bus.Publish(bus.RugDetected, sig)
		g.bus.Publish(bus.GameEnd, sig)
	}
}

// handleUsernameStatus decodes an authenticated usernameStatus frame and
// publishes it so the Server-Truth Reconciler (§4.9) can update player
// identity. Persisted verbatim via WS_RAW_EVENT regardless of decode
// outcome; a decode failure only costs the typed route.
func (g *Ingestor) handleUsernameStatus(data json.RawMessage) {
	status, err := ParseUsernameStatus(data)
	if err != nil {
		g.mu.Lock()
		g.counters.Anomalies++
		g.mu.Unlock()
		return
	}
	if g.bus != nil {
		g.bus.Publish(bus.UsernameStatusReceived, status)
	}
}

// handlePlayerUpdate decodes an authenticated playerUpdate frame and
// publishes it so the Server-Truth Reconciler can compare server-truth
// balance/position against local GameState (§4.9).
func (g *Ingestor) handlePlayerUpdate(data json.RawMessage) {
	upd, err := ParsePlayerUpdate(data)
	if err != nil {
		g.mu.Lock()
		g.counters.Anomalies++
		g.mu.Unlock()
		return
	}
	if g.bus != nil {
		g.bus.Publish(bus.PlayerUpdateReceived, upd)
	}
}

// handleTradeConfirm decodes a buyOrder/sellOrder response and publishes
// it so trade_id can be correlated back to the local action that
// triggered it (§6).
func (g *Ingestor) handleTradeConfirm(data json.RawMessage) {
	tc, err := ParseTradeConfirm(data)
	if err != nil {
		g.mu.Lock()
		g.counters.Anomalies++
		g.mu.Unlock()
		return
	}
	if g.bus != nil {
		g.bus.Publish(bus.TradeConfirmed, tc)
	}
}

// RawEvent is the payload published as WS_RAW_EVENT for every decoded
// Socket.IO event, known or unknown (§4.3 point 6, §6 framing).
type RawEvent struct {
	Event        string
	Data         json.RawMessage
	ReceivedAtMs uint64
}

// criticalEvents bypass the rate limiter per §4.3 point 3 / property 10.
var criticalEvents = map[string]bool{
	"rugPull": true,
}

func isCriticalEvent(event string, data json.RawMessage) bool {
	if criticalEvents[event] {
		return true
	}
	if event != "gameStateUpdate" {
		return false
	}
	var v struct {
		Rugged bool `json:"rugged"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	return v.Rugged
}

func gapMs(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
