// Package tracker implements the per-grid-session price tracker (§3.4,
// §4.2): a three-state machine — IDLE, WAITING_SELL, WAITING_BUY — driven
// by a stream of price samples and the session's immutable callback ratio.
package tracker

import (
	"sync"

	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

// epsilonFloat absorbs binary-float rounding in the pullback-completion
// comparison, per §4.2: "≥ callback_ratio − ε_float".
const epsilonFloat = 1e-4

// State is one of the three tracker states.
type State string

const (
	StateIdle        State = "IDLE"
	StateWaitingSell State = "WAITING_SELL"
	StateWaitingBuy  State = "WAITING_BUY"
)

// Emission is the signal a tick may produce: BUY, SELL, or neither.
type Emission string

const (
	EmitNone Emission = ""
	EmitBuy  Emission = "BUY"
	EmitSell Emission = "SELL"
)

// Result reports what happened on one tick, enough for the caller (C3) to
// build a full signal record when an emission occurred.
type Result struct {
	Emission      Emission
	CrossedLevel  float64
	PeakPrice     float64
	ValleyPrice   float64
	CallbackRatio float64
}

// Tracker is the mutable per-session state; callers must hold an external
// lock appropriate to their concurrency model (C3 serializes per symbol).
type Tracker struct {
	mu sync.Mutex

	LastPrice     float64
	PeakPrice     float64
	ValleyPrice   float64
	Direction     types.TrackerDirection
	CrossedLevel  float64
	Waiting       bool
	state         State
	CallbackRatio float64
}

// New seeds a tracker at a given price (§4.3: session start, or recovery's
// conservative reset to current_center_price for last/peak/valley).
func New(seedPrice, callbackRatio float64) *Tracker {
	return &Tracker{
		LastPrice:     seedPrice,
		PeakPrice:     seedPrice,
		ValleyPrice:   seedPrice,
		Direction:     types.DirectionNone,
		state:         StateIdle,
		CallbackRatio: callbackRatio,
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset returns the tracker to IDLE seeded at p — used after a grid
// rebuild (§4.3 "Grid rebuild") where last=peak=valley=p, direction=None.
func (t *Tracker) Reset(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LastPrice = p
	t.PeakPrice = p
	t.ValleyPrice = p
	t.Direction = types.DirectionNone
	t.CrossedLevel = 0
	t.Waiting = false
	t.state = StateIdle
}

// Feed advances the tracker by one price sample against the current
// upper/lower grid levels, implementing §4.2's three-state machine.
// levelInCooldown lets the caller veto a fresh IDLE->WAITING_* transition
// for a specific level without otherwise touching the tracker (§4.3 level
// cooldown).
func (t *Tracker) Feed(price, upperLevel, lowerLevel float64, levelInCooldown func(level float64) bool) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.LastPrice = price

	switch t.state {
	case StateIdle:
		switch {
		case price > upperLevel && !levelInCooldown(upperLevel):
			t.state = StateWaitingSell
			t.Direction = types.DirectionRising
			t.PeakPrice = price
			t.CrossedLevel = upperLevel
			t.Waiting = true
		case price < lowerLevel && !levelInCooldown(lowerLevel):
			t.state = StateWaitingBuy
			t.Direction = types.DirectionFalling
			t.ValleyPrice = price
			t.CrossedLevel = lowerLevel
			t.Waiting = true
		}
		return Result{Emission: EmitNone}

	case StateWaitingSell:
		if price > t.PeakPrice {
			t.PeakPrice = price
		}
		pullback := (t.PeakPrice - price) / t.PeakPrice
		if pullback >= t.CallbackRatio-epsilonFloat {
			result := Result{
				Emission:      EmitSell,
				CrossedLevel:  t.CrossedLevel,
				PeakPrice:     t.PeakPrice,
				CallbackRatio: t.CallbackRatio,
			}
			t.toIdleAt(price)
			return result
		}
		return Result{Emission: EmitNone}

	case StateWaitingBuy:
		if price < t.ValleyPrice {
			t.ValleyPrice = price
		}
		bounce := (price - t.ValleyPrice) / t.ValleyPrice
		if bounce >= t.CallbackRatio-epsilonFloat {
			result := Result{
				Emission:      EmitBuy,
				CrossedLevel:  t.CrossedLevel,
				ValleyPrice:   t.ValleyPrice,
				CallbackRatio: t.CallbackRatio,
			}
			t.toIdleAt(price)
			return result
		}
		return Result{Emission: EmitNone}

	default:
		return Result{Emission: EmitNone}
	}
}

func (t *Tracker) toIdleAt(price float64) {
	t.state = StateIdle
	t.Direction = types.DirectionNone
	t.Waiting = false
	t.CrossedLevel = 0
	t.PeakPrice = price
	t.ValleyPrice = price
}
