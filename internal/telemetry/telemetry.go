// Package telemetry optionally republishes Live-State snapshots onto
// NATS for downstream dashboards, mirroring the teacher's risk_state.go
// publisher: a ticker loop that marshals the current state to JSON and
// calls nats.Conn.Publish on a configured subject, logging failures
// without treating them as fatal.
package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vectra-player/core/internal/live"
)

// Options configures the republisher. It is config-gated: a zero-value
// URL disables telemetry entirely (see internal/config).
type Options struct {
	URL      string
	Subject  string
	Interval time.Duration
}

// snapshotDoc is the wire shape published to NATS, independent of
// internal/live.Snapshot's Go-only fields (money.D, time.Time): rates
// marshal as JSON numbers, decimals as decimal strings, and times as
// RFC3339 strings.
type snapshotDoc struct {
	OperatingMode string    `json:"operating_mode"`
	Connected     bool      `json:"connected"`
	LastSignalAt  time.Time `json:"last_signal_at"`
	SpikeRate     float64   `json:"spike_rate"`
	ErrorRate     float64   `json:"error_rate"`
	Balance       string    `json:"server_balance"`
	PositionQty   string    `json:"server_position_qty"`
}

// Publisher connects to NATS and republishes a Live-State source on a
// fixed interval until its context is canceled.
type Publisher struct {
	opts   Options
	source func() live.Snapshot
	conn   *nats.Conn
}

// Connect dials the configured NATS server. Returns (nil, nil) if
// opts.URL is empty, so callers can unconditionally defer Close.
func Connect(opts Options) (*Publisher, error) {
	if opts.URL == "" {
		return nil, nil
	}
	if opts.Subject == "" {
		opts.Subject = "vectra.live_state"
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}

	nc, err := nats.Connect(opts.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("telemetry: connected to NATS at %s, publishing to %q", opts.URL, opts.Subject)
	return &Publisher{opts: opts, conn: nc}, nil
}

// Close releases the NATS connection. Safe to call on a nil Publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// Run starts the periodic publish loop, pulling snapshots from source,
// until ctx is canceled. Safe to call on a nil Publisher (no-op), so the
// host can unconditionally launch it as a goroutine.
func (p *Publisher) Run(ctx context.Context, source func() live.Snapshot) error {
	if p == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.publishOnce(source()); err != nil {
				log.Printf("telemetry: publish failed: %v", err)
			}
		}
	}
}

func (p *Publisher) publishOnce(snap live.Snapshot) error {
	doc := snapshotDoc{
		OperatingMode: string(snap.OperatingMode),
		Connected:     snap.Connected,
		LastSignalAt:  snap.LastSignalAt,
		SpikeRate:     snap.SpikeRate,
		ErrorRate:     snap.ErrorRate,
		Balance:       snap.ServerState.Balance.String(),
		PositionQty:   snap.ServerState.PositionQty.String(),
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.opts.Subject, payload)
}
