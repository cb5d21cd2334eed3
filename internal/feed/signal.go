package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vectra-player/core/internal/money"
	"github.com/vectra-player/core/internal/phase"
)

// GameSignal is the 9-field broadcast record the core reads out of a
// gameStateUpdate frame, plus the classifier's verdict and the ingestor's
// own receive timestamp (§3 GameSignal).
type GameSignal struct {
	GameID        string   `json:"gameId"`
	Active        bool     `json:"active"`
	Rugged        bool     `json:"rugged"`
	Tick          uint64   `json:"tickCount"`
	Price         money.D  `json:"-"`
	CooldownTimer uint32   `json:"cooldownTimer"`
	TradeCount    uint32   `json:"tradeCount"`
	Phase         phase.Phase `json:"-"`
	IsValid       bool     `json:"-"`
	TimestampMs   uint64   `json:"-"`
}

// rawGameStateUpdate mirrors the wire shape of gameStateUpdate; price
// arrives as a JSON number and must be converted through a string
// round-trip (§3 "conversions from floating-point inputs go through a
// string round-trip"), never via a direct float64->Decimal cast.
type rawGameStateUpdate struct {
	GameID            string          `json:"gameId"`
	Active            bool            `json:"active"`
	Rugged            bool            `json:"rugged"`
	TickCount         uint64          `json:"tickCount"`
	Price             json.Number     `json:"price"`
	CooldownTimer     uint32          `json:"cooldownTimer"`
	AllowPreRoundBuys bool            `json:"allowPreRoundBuys"`
	TradeCount        uint32          `json:"tradeCount"`
	GameHistory       json.RawMessage `json:"gameHistory,omitempty"`
}

// ParseGameStateUpdate decodes a gameStateUpdate payload into the 9-field
// signal plus the phase-classifier input fields. Unknown extra fields
// (leaderboard, partialPrices, rugpool, availableShitcoins, provablyFair)
// are intentionally not modeled here — the caller persists the raw bytes
// verbatim via WS_RAW_EVENT and only this typed subset feeds the core.
func ParseGameStateUpdate(raw json.RawMessage, receivedAtMs uint64) (GameSignal, phase.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var parsed rawGameStateUpdate
	if err := dec.Decode(&parsed); err != nil {
		return GameSignal{}, phase.Fields{}, fmt.Errorf("feed: decode gameStateUpdate: %w", err)
	}

	price, err := money.DecimalFromString(normalizeNumber(parsed.Price))
	if err != nil {
		return GameSignal{}, phase.Fields{}, fmt.Errorf("feed: decode price: %w", err)
	}

	fields := phase.Fields{
		GameID:            parsed.GameID,
		Active:            parsed.Active,
		Rugged:            parsed.Rugged,
		CooldownTimer:     parsed.CooldownTimer,
		Tick:              parsed.TickCount,
		AllowPreRoundBuys: parsed.AllowPreRoundBuys,
		TimestampMs:       receivedAtMs,
	}

	sig := GameSignal{
		GameID:        parsed.GameID,
		Active:        parsed.Active,
		Rugged:        parsed.Rugged,
		Tick:          parsed.TickCount,
		Price:         price,
		CooldownTimer: parsed.CooldownTimer,
		TradeCount:    parsed.TradeCount,
		TimestampMs:   receivedAtMs,
	}
	return sig, fields, nil
}

// UsernameStatus mirrors the §6 authenticated usernameStatus payload.
type UsernameStatus struct {
	ID          string
	Username    string
	HasUsername bool
}

type rawUsernameStatus struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	HasUsername bool   `json:"hasUsername"`
}

// ParseUsernameStatus decodes a usernameStatus frame.
func ParseUsernameStatus(raw json.RawMessage) (UsernameStatus, error) {
	var p rawUsernameStatus
	if err := json.Unmarshal(raw, &p); err != nil {
		return UsernameStatus{}, fmt.Errorf("feed: decode usernameStatus: %w", err)
	}
	return UsernameStatus{ID: p.ID, Username: p.Username, HasUsername: p.HasUsername}, nil
}

// PlayerUpdate mirrors the §6 authenticated playerUpdate payload.
type PlayerUpdate struct {
	Cash          money.D
	CumulativePnL money.D
	PositionQty   money.D
	AvgCost       money.D
	TotalInvested money.D
}

type rawPlayerUpdate struct {
	Cash          json.Number `json:"cash"`
	CumulativePnL json.Number `json:"cumulativePnL"`
	PositionQty   json.Number `json:"positionQty"`
	AvgCost       json.Number `json:"avgCost"`
	TotalInvested json.Number `json:"totalInvested"`
}

// ParsePlayerUpdate decodes a playerUpdate frame, converting every
// monetary field through the same string round-trip as
// ParseGameStateUpdate.
func ParsePlayerUpdate(raw json.RawMessage) (PlayerUpdate, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p rawPlayerUpdate
	if err := dec.Decode(&p); err != nil {
		return PlayerUpdate{}, fmt.Errorf("feed: decode playerUpdate: %w", err)
	}

	cash, err := money.DecimalFromString(normalizeNumber(p.Cash))
	if err != nil {
		return PlayerUpdate{}, fmt.Errorf("feed: decode playerUpdate.cash: %w", err)
	}
	pnl, err := money.DecimalFromString(normalizeNumber(p.CumulativePnL))
	if err != nil {
		return PlayerUpdate{}, fmt.Errorf("feed: decode playerUpdate.cumulativePnL: %w", err)
	}
	qty, err := money.DecimalFromString(normalizeNumber(p.PositionQty))
	if err != nil {
		return PlayerUpdate{}, fmt.Errorf("feed: decode playerUpdate.positionQty: %w", err)
	}
	avgCost, err := money.DecimalFromString(normalizeNumber(p.AvgCost))
	if err != nil {
		return PlayerUpdate{}, fmt.Errorf("feed: decode playerUpdate.avgCost: %w", err)
	}
	totalInvested, err := money.DecimalFromString(normalizeNumber(p.TotalInvested))
	if err != nil {
		return PlayerUpdate{}, fmt.Errorf("feed: decode playerUpdate.totalInvested: %w", err)
	}

	return PlayerUpdate{
		Cash:          cash,
		CumulativePnL: pnl,
		PositionQty:   qty,
		AvgCost:       avgCost,
		TotalInvested: totalInvested,
	}, nil
}

// TradeConfirm mirrors a buyOrder/sellOrder response, used per §6 to
// correlate a server-assigned trade_id back to the local action that
// triggered it.
type TradeConfirm struct {
	TradeID string
	Price   money.D
	Amount  money.D
}

type rawTradeConfirm struct {
	TradeID string      `json:"tradeId"`
	Price   json.Number `json:"price"`
	Amount  json.Number `json:"amount"`
}

// ParseTradeConfirm decodes a buyOrder/sellOrder response frame.
func ParseTradeConfirm(raw json.RawMessage) (TradeConfirm, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p rawTradeConfirm
	if err := dec.Decode(&p); err != nil {
		return TradeConfirm{}, fmt.Errorf("feed: decode trade confirm: %w", err)
	}

	price, err := money.DecimalFromString(normalizeNumber(p.Price))
	if err != nil {
		return TradeConfirm{}, fmt.Errorf("feed: decode trade confirm price: %w", err)
	}
	amount, err := money.DecimalFromString(normalizeNumber(p.Amount))
	if err != nil {
		return TradeConfirm{}, fmt.Errorf("feed: decode trade confirm amount: %w", err)
	}

	return TradeConfirm{TradeID: p.TradeID, Price: price, Amount: amount}, nil
}

func normalizeNumber(n json.Number) string {
	if n == "" {
		return "0"
	}
	// Re-emit through strconv so any exponent form is normalized to a
	// plain decimal string before handing it to shopspring/decimal.
	if f, err := strconv.ParseFloat(string(n), 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(n)
}
