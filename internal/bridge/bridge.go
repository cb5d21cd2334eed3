// Package bridge defines the execution bridge boundary (§6): the thin
// interface through which the Trade Manager reflects a trade on an
// external surface (a browser driven by CDP, or a local UI) before
// mutating local state. Both are out of scope (§1 Non-goals); this
// package provides the interface and a logging no-op implementation.
package bridge

import (
	"log"

	"github.com/vectra-player/core/internal/money"
)

// Bridge is the pluggable execution surface. Implementations must
// complete each call synchronously before returning, so the Trade
// Manager can enforce "UI click, then backend mutation" ordering.
type Bridge interface {
	ClickBuy(amount money.D) error
	ClickSell(percent money.D) error
	ClickSidebet(amount money.D) error
	StageNextAmount(amount money.D) error
}

// NoOp logs every call and always succeeds. It is the default bridge when
// no browser automation or UI layer is attached.
type NoOp struct{}

func (NoOp) ClickBuy(amount money.D) error {
	log.Printf("bridge: click_buy(%s) [no-op]", amount)
	return nil
}

func (NoOp) ClickSell(percent money.D) error {
	log.Printf("bridge: click_sell(%s) [no-op]", percent)
	return nil
}

func (NoOp) ClickSidebet(amount money.D) error {
	log.Printf("bridge: click_sidebet(%s) [no-op]", amount)
	return nil
}

func (NoOp) StageNextAmount(amount money.D) error {
	log.Printf("bridge: stage_next_amount(%s) [no-op]", amount)
	return nil
}
