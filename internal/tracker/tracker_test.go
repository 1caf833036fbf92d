package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

func noCooldown(float64) bool { return false }

func TestFeed_NoLevelCrossingStaysIdle(t *testing.T) {
	tr := New(10.00, 0.005)
	r := tr.Feed(10.20, 10.50, 9.50, noCooldown)
	assert.Equal(t, EmitNone, r.Emission)
	assert.Equal(t, StateIdle, tr.State())
}

func TestFeed_PriceEqualToUpperLevelDoesNotTrigger(t *testing.T) {
	tr := New(10.00, 0.005)
	r := tr.Feed(10.50, 10.50, 9.50, noCooldown)
	assert.Equal(t, EmitNone, r.Emission, "strict > required, == must not cross")
	assert.Equal(t, StateIdle, tr.State())
}

func TestFeed_StrictlyAboveUpperLevelArmsWaitingSell(t *testing.T) {
	tr := New(10.00, 0.005)
	tr.Feed(10.60, 10.50, 9.50, noCooldown)
	assert.Equal(t, StateWaitingSell, tr.State())
	assert.Equal(t, 10.60, tr.PeakPrice)
}

func TestFeed_CooldownLevelVetoesTransition(t *testing.T) {
	tr := New(10.00, 0.005)
	inCooldown := func(level float64) bool { return level == 10.50 }
	tr.Feed(10.60, 10.50, 9.50, inCooldown)
	assert.Equal(t, StateIdle, tr.State(), "a crossed level in cooldown must not arm WAITING_SELL")
}

func TestFeed_ScenarioS3_GridOscillationSellLeg(t *testing.T) {
	tr := New(10.00, 0.005)

	tr.Feed(10.20, 10.50, 9.50, noCooldown)
	tr.Feed(10.40, 10.50, 9.50, noCooldown)
	tr.Feed(10.60, 10.50, 9.50, noCooldown)
	assert.Equal(t, StateWaitingSell, tr.State())
	assert.Equal(t, 10.60, tr.PeakPrice)

	tr.Feed(10.70, 10.50, 9.50, noCooldown)
	assert.Equal(t, 10.70, tr.PeakPrice)

	r := tr.Feed(10.545, 10.50, 9.50, noCooldown)
	assert.Equal(t, EmitSell, r.Emission)
	assert.InDelta(t, 10.70, r.PeakPrice, 1e-9)
	assert.Equal(t, StateIdle, tr.State(), "emission returns the tracker to IDLE")
}

func TestFeed_ScenarioS3_GridOscillationBuyLeg(t *testing.T) {
	tr := New(10.545, 0.005)
	levels := struct{ upper, lower float64 }{11.072, 10.018}

	tr.Feed(10.30, levels.upper, levels.lower, noCooldown)
	tr.Feed(10.00, levels.upper, levels.lower, noCooldown)
	tr.Feed(9.80, levels.upper, levels.lower, noCooldown)
	tr.Feed(9.40, levels.upper, levels.lower, noCooldown)
	assert.Equal(t, StateWaitingBuy, tr.State())
	assert.Equal(t, types.DirectionFalling, tr.Direction)

	tr.Feed(9.35, levels.upper, levels.lower, noCooldown)
	assert.Equal(t, 9.35, tr.ValleyPrice)

	r := tr.Feed(9.397, levels.upper, levels.lower, noCooldown)
	assert.Equal(t, EmitBuy, r.Emission)
	assert.InDelta(t, 9.35, r.ValleyPrice, 1e-9)
}

func TestFeed_PullbackExactlyAtCallbackRatioFires(t *testing.T) {
	tr := New(10.00, 0.01) // 1% callback
	tr.Feed(10.60, 10.50, 9.50, noCooldown)

	// exactly 1% pullback from peak 10.60: 10.60 * 0.99 = 10.494
	r := tr.Feed(10.494, 10.50, 9.50, noCooldown)
	assert.Equal(t, EmitSell, r.Emission, "a pullback exactly at callback_ratio must fire (>= with tolerance)")
}

func TestFeed_WaitingStateIgnoresNewLevelCrossings(t *testing.T) {
	tr := New(10.00, 0.2) // 20% callback: the drop to 9.00 (~15% off the peak) does not complete a pullback
	tr.Feed(10.60, 10.50, 9.50, noCooldown)
	// a lower-level cross while WAITING_SELL must not flip state
	tr.Feed(9.00, 10.50, 9.50, noCooldown)
	assert.Equal(t, StateWaitingSell, tr.State())
}

func TestReset_ReturnsToIdleSeededAtPrice(t *testing.T) {
	tr := New(10.00, 0.005)
	tr.Feed(10.60, 10.50, 9.50, noCooldown)
	tr.Reset(10.545)

	assert.Equal(t, StateIdle, tr.State())
	assert.Equal(t, 10.545, tr.PeakPrice)
	assert.Equal(t, 10.545, tr.ValleyPrice)
	assert.Equal(t, types.DirectionNone, tr.Direction)
}
