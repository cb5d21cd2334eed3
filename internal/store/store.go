// Package store implements the Event Store (§4.8): an append-only,
// per-doc-type, date-partitioned parquet writer fed from the Event Bus,
// plus a MongoDB-backed checkpoint of ServerState and session summaries.
//
// Grounded on the teacher's internal/archive.Archiver (buffered-batch-
// then-rotate idiom, here reused for row-group flush-then-rotate-partial-
// file) and internal/persist.Store/Snapshotter/EnsureIndexes (Mongo
// connection/migration/upsert-by-key shape, adapted from order-book
// snapshotting to ServerState/session-summary checkpointing). The parquet
// writer follows the struct-tag convention of
// autovant-trading-bot/replay_service.go's readParquet; this package has
// no parquet reader.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vectra-player/core/internal/bus"
)

// DocType is the partition key under events_parquet/doc_type=<kind>/.
type DocType string

const (
	DocWSEvent      DocType = "ws_event"
	DocGameTick     DocType = "game_tick"
	DocPlayerAction DocType = "player_action"
	DocServerState  DocType = "server_state"
	DocSystem       DocType = "system"
	DocTrade        DocType = "trade"
)

// Source mirrors §3 StoredEvent.source.
type Source string

const (
	SourceCDP      Source = "cdp"
	SourcePublicWS Source = "public_ws"
	SourceReplay   Source = "replay"
	SourceUI       Source = "ui"
)

// Direction mirrors §3 StoredEvent.direction.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// StoredEvent is the append-only unit of persistence (§3).
type StoredEvent struct {
	TimestampMs int64
	Source      Source
	DocType     DocType
	SessionID   string
	Seq         uint64
	Direction   Direction
	RawJSON     []byte
}

// eventTypeDocType maps the bus's typed events onto the §6 doc-type
// partitions. Events with no mapping are not persisted by the Store
// (e.g. purely internal notifications that never cross the wire).
var eventTypeDocType = map[bus.EventType]DocType{
	bus.WSRawEvent:             DocWSEvent,
	bus.GameTick:               DocGameTick,
	bus.GameStart:              DocGameTick,
	bus.GameEnd:                DocGameTick,
	bus.RugDetected:            DocGameTick,
	bus.TradeBuy:               DocTrade,
	bus.TradeSell:              DocTrade,
	bus.TradeSidebet:           DocTrade,
	bus.SidebetResolved:        DocTrade,
	bus.PositionOpened:         DocTrade,
	bus.PositionReduced:        DocTrade,
	bus.PositionClosed:         DocTrade,
	bus.SidebetPlaced:          DocTrade,
	bus.ServerStateUpdated:     DocServerState,
	bus.DriftDetected:          DocServerState,
	bus.UsernameStatusReceived: DocServerState,
	bus.PlayerUpdateReceived:   DocServerState,
	bus.TradeConfirmed:         DocTrade,
	bus.DataIntegrityIssue:     DocSystem,
	bus.DataIntegrityRecovered: DocSystem,
	bus.Reconnected:            DocSystem,
	bus.SessionStarted:         DocSystem,
	bus.SessionStopped:         DocSystem,
	bus.OperatingModeChanged:   DocSystem,
	bus.Observability:          DocSystem,
}

// Options configures a Store.
type Options struct {
	RootDir     string
	FlushRows   int
	FlushPeriod time.Duration
	Marshal     func(bus.EventType, any) ([]byte, error)
	Now         func() time.Time
}

// Store subscribes to the bus and fans out every persistable event into
// a per-doc-type buffered parquet writer. One Store instance owns one
// recording session's files and write buffers exclusively.
type Store struct {
	opts Options
	bus  *bus.Bus

	mu        sync.Mutex
	sessionID string
	startedAt time.Time
	seq       atomic.Uint64
	writers   map[DocType]*docWriter
	subs      []*bus.Subscription
	degraded  map[DocType]bool

	counts map[DocType]uint64
}

// New constructs a Store rooted at opts.RootDir. Start begins a session;
// Stop seals it. The Store does not run until Start is called.
func New(opts Options, b *bus.Bus) *Store {
	if opts.FlushRows <= 0 {
		opts.FlushRows = 500
	}
	if opts.FlushPeriod <= 0 {
		opts.FlushPeriod = 5 * time.Second
	}
	if opts.Marshal == nil {
		opts.Marshal = defaultMarshal
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		opts:     opts,
		bus:      b,
		writers:  make(map[DocType]*docWriter),
		degraded: make(map[DocType]bool),
		counts:   make(map[DocType]uint64),
	}
}

// Start begins a new session: rotates aside any partial files left over
// from a prior crash (§4.8 "idempotent across restarts"), subscribes to
// the bus, and writes the session-start metadata row.
func (s *Store) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID != "" {
		return s.sessionID, nil
	}

	if err := rotateAsidePartials(s.opts.RootDir); err != nil {
		log.Printf("store: rotate-aside scan failed: %v", err)
	}

	s.sessionID = uuid.New().String()
	s.startedAt = s.opts.Now()
	s.seq.Store(0)
	s.counts = make(map[DocType]uint64)

	if s.bus != nil {
		sub := s.bus.Subscribe(bus.WSRawEvent, s.handler(bus.WSRawEvent))
		s.subs = append(s.subs, sub)
		for evtType := range eventTypeDocType {
			if evtType == bus.WSRawEvent {
				continue
			}
			sub := s.bus.Subscribe(evtType, s.handler(evtType))
			s.subs = append(s.subs, sub)
		}
	}

	s.appendLocked(DocSystem, StoredEvent{
		TimestampMs: s.startedAt.UnixMilli(),
		Source:      SourcePublicWS,
		SessionID:   s.sessionID,
		Direction:   DirectionReceived,
		RawJSON:     []byte(fmt.Sprintf(`{"event":"session_start","session_id":%q}`, s.sessionID)),
	})

	return s.sessionID, nil
}

func (s *Store) handler(evtType bus.EventType) bus.Handler {
	docType := eventTypeDocType[evtType]
	return func(ev bus.Event) {
		raw, err := s.opts.Marshal(ev.Type, ev.Payload)
		if err != nil {
			log.Printf("store: marshal %s: %v", ev.Type, err)
			return
		}
		s.mu.Lock()
		s.appendLocked(docType, StoredEvent{
			TimestampMs: ev.Timestamp.UnixMilli(),
			Source:      SourcePublicWS,
			SessionID:   s.sessionID,
			Direction:   DirectionReceived,
			RawJSON:     raw,
		})
		s.mu.Unlock()
	}
}

// appendLocked assigns the event its session-wide monotonic seq and
// routes it to its doc-type's writer. Caller holds s.mu.
func (s *Store) appendLocked(docType DocType, ev StoredEvent) {
	if s.degraded[docType] {
		return
	}
	ev.DocType = docType
	ev.Seq = s.seq.Add(1)

	w, ok := s.writers[docType]
	if !ok {
		w = newDocWriter(s.opts.RootDir, docType, s.sessionID, s.opts.FlushRows, s.opts.FlushPeriod)
		s.writers[docType] = w
	}
	if err := w.Append(ev); err != nil {
		log.Printf("store: doc_type=%s write error, degrading: %v", docType, err)
		s.degraded[docType] = true
		if s.bus != nil {
			s.bus.Publish(bus.Observability, fmt.Sprintf("store degraded for doc_type=%s: %v", docType, err))
		}
		return
	}
	s.counts[docType]++
}

// Flush forces every doc-type buffer to disk without sealing the session.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for dt, w := range s.writers {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush %s: %w", dt, err)
		}
	}
	return firstErr
}

// Stop seals the session: writes the session-end footer row, flushes
// every writer within deadline (marking a truncated segment on expiry
// per §5's flush-deadline rule), unsubscribes from the bus, and writes
// the session manifest.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" {
		return nil
	}

	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
	s.subs = nil

	endedAt := s.opts.Now()
	s.appendLocked(DocSystem, StoredEvent{
		TimestampMs: endedAt.UnixMilli(),
		Source:      SourcePublicWS,
		SessionID:   s.sessionID,
		Direction:   DirectionReceived,
		RawJSON:     []byte(fmt.Sprintf(`{"event":"session_end","session_id":%q}`, s.sessionID)),
	})

	cleanShutdown := true
	deadline, hasDeadline := ctx.Deadline()
	for dt, w := range s.writers {
		if hasDeadline && time.Now().After(deadline) {
			w.FlushTruncated()
			cleanShutdown = false
			continue
		}
		if err := w.Flush(); err != nil {
			log.Printf("store: flush %s on stop: %v", dt, err)
			cleanShutdown = false
		}
	}

	manifest := Manifest{
		SessionID:     s.sessionID,
		StartedAtMs:   s.startedAt.UnixMilli(),
		EndedAtMs:     endedAt.UnixMilli(),
		CountsPerDoc:  copyCounts(s.counts),
		CleanShutdown: cleanShutdown,
	}
	if err := WriteManifest(s.opts.RootDir, manifest); err != nil {
		log.Printf("store: write manifest: %v", err)
		cleanShutdown = false
	}

	s.sessionID = ""
	s.writers = make(map[DocType]*docWriter)
	s.degraded = make(map[DocType]bool)
	return nil
}

// Counts returns a point-in-time snapshot of rows written per doc-type
// for the current session.
func (s *Store) Counts() map[DocType]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounts(s.counts)
}

// SessionID returns the current session id, or "" if no session is
// active.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func copyCounts(m map[DocType]uint64) map[DocType]uint64 {
	out := make(map[DocType]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func defaultMarshal(_ bus.EventType, payload any) ([]byte, error) {
	return json.Marshal(payload)
}

// rotateAsidePartials walks the parquet root for leftover .tmp files from
// a prior crash and renames them aside with a ".partial-<unixms>" suffix,
// per §4.8 "a partially written file is rotated aside and never
// overwritten" and §8 property 9 "restarting mid-session rotates partial
// files aside".
func rotateAsidePartials(root string) error {
	base := filepath.Join(root, "events_parquet")
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".tmp" {
			return nil
		}
		rotated := fmt.Sprintf("%s.partial-%d", path, time.Now().UnixNano())
		if err := os.Rename(path, rotated); err != nil {
			return fmt.Errorf("rotate %s: %w", path, err)
		}
		log.Printf("store: rotated aside partial file %s -> %s", path, rotated)
		return nil
	})
}
