package orders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-dca-bot/internal/broker"
	"github.com/ducminhle1904/crypto-dca-bot/internal/config"
	"github.com/ducminhle1904/crypto-dca-bot/internal/grid"
	"github.com/ducminhle1904/crypto-dca-bot/internal/marketdata"
	"github.com/ducminhle1904/crypto-dca-bot/internal/store"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

type fakePositionSource struct {
	positions map[string]*types.Position
}

func (f *fakePositionSource) GetPosition(stockCode string) (*types.Position, error) {
	pos, ok := f.positions[stockCode]
	if !ok {
		return nil, store.ErrPositionNotFound
	}
	return pos, nil
}

func newTestManager(t *testing.T, cfgMutate func(*config.Config)) (*Manager, *store.Store, *broker.SimulationBroker, *marketdata.SimulationFeed) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	br := broker.NewSimulationBroker(1_000_000)
	feed := marketdata.NewSimulationFeed()
	feed.SetTick("600519.SH", marketdata.Tick{Last: 100, Bid: []float64{99.9, 99.8, 99.7}})

	cfg := config.Default()
	if cfgMutate != nil {
		cfgMutate(cfg)
	}
	m := NewManager(st, br, feed, nil, cfg, nil, "acct1")
	return m, st, br, feed
}

func TestSubmit_SellRecordsPendingEntryAndLocksAvailable(t *testing.T) {
	m, st, _, _ := newTestManager(t, nil)
	require.NoError(t, st.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 1000, Available: 1000, CostPrice: 90}))

	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalStopLoss, Volume: 1000, Strategy: "dynamic_stop_profit"}
	require.NoError(t, m.Submit(context.Background(), sig))

	assert.True(t, m.HasPendingSell("600519.SH"))
}

func TestSubmit_SecondSellWhileFirstPendingIsRejected(t *testing.T) {
	m, st, _, _ := newTestManager(t, nil)
	require.NoError(t, st.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 1000, Available: 1000, CostPrice: 90}))

	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalStopLoss, Volume: 1000, Strategy: "dynamic_stop_profit"}
	require.NoError(t, m.Submit(context.Background(), sig))
	err := m.Submit(context.Background(), sig)
	assert.Error(t, err)
}

func TestOnFill_TakeProfitHalfSetsProfitTriggeredAndClearsEntry(t *testing.T) {
	m, st, br, _ := newTestManager(t, nil)
	require.NoError(t, st.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 1000, Available: 1000, CostPrice: 90}))

	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalTakeProfitHalf, SellRatio: 0.5, Strategy: "dynamic_stop_profit"}
	require.NoError(t, m.Submit(context.Background(), sig))

	// simulation broker fires the callback synchronously inside OrderStock,
	// which Submit already called — give the dispatcher's goroutine-free
	// synchronous path a moment to settle (it's synchronous, but assert anyway).
	assert.Eventually(t, func() bool { return !m.HasPendingSell("600519.SH") }, time.Second, time.Millisecond)

	got, err := st.GetPosition("600519.SH")
	require.NoError(t, err)
	assert.True(t, got.ProfitTriggered)
	assert.Equal(t, int64(500), got.Volume)
	_ = br
}

func TestOnFill_IgnoresFillForUnknownOrderID(t *testing.T) {
	m, st, _, _ := newTestManager(t, nil)
	require.NoError(t, st.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 1000, Available: 1000, CostPrice: 90}))

	m.onFill(broker.FillEvent{OrderID: "bogus", StockCode: "600519.SH", TradedVolume: 100, TradedPrice: 100})

	got, err := st.GetPosition("600519.SH")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Volume, "a fill for an order we never tracked must not mutate position")
}

func TestOnFill_DeletesPositionWhenVolumeReachesZero(t *testing.T) {
	m, st, _, _ := newTestManager(t, nil)
	require.NoError(t, st.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 500, Available: 500, CostPrice: 90}))

	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalTakeProfitFull, Volume: 500, Strategy: "dynamic_stop_profit"}
	require.NoError(t, m.Submit(context.Background(), sig))

	assert.Eventually(t, func() bool {
		_, err := st.GetPosition("600519.SH")
		return err == store.ErrPositionNotFound
	}, time.Second, time.Millisecond)
}

func TestResolveTakeProfitHalfVolume_RoundsDownToLotWithFloorAtOneLot(t *testing.T) {
	assert.Equal(t, int64(500), ResolveTakeProfitHalfVolume(1000, 0.5))
	assert.Equal(t, int64(100), ResolveTakeProfitHalfVolume(150, 0.5), "75 rounds down to 0 lots but must floor at one lot")
	assert.Equal(t, int64(0), ResolveTakeProfitHalfVolume(50, 0.5), "below one lot held, nothing to sell")
}

func TestSweepTimeouts_NoopInSimulationMode(t *testing.T) {
	m, st, _, _ := newTestManager(t, func(c *config.Config) { c.SimulationMode = true; c.PendingOrderAutoCancel = true })
	require.NoError(t, st.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 1000, Available: 1000, CostPrice: 90}))

	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalStopLoss, Volume: 1000, Strategy: "dynamic_stop_profit"}
	require.NoError(t, m.Submit(context.Background(), sig))
	// the simulation broker already filled synchronously, so there is
	// nothing pending by the time sweep runs regardless; assert no panic.
	m.SweepTimeouts(context.Background())
}

func TestSubmit_AddPositionBuyDoesNotTouchPendingSells(t *testing.T) {
	m, _, _, _ := newTestManager(t, nil)
	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalAddPosition, Volume: 100, Strategy: "dynamic_stop_profit"}
	require.NoError(t, m.Submit(context.Background(), sig))
	assert.False(t, m.HasPendingSell("600519.SH"))
}

func TestSubmit_GridSignalWithNoGridManagerWiredErrors(t *testing.T) {
	m, _, _, _ := newTestManager(t, nil)
	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalGridBuy, TriggerPrice: 100, Strategy: "grid"}
	err := m.Submit(context.Background(), sig)
	assert.Error(t, err)
}

func TestSubmit_GridSignalDelegatesToGridManagerExecution(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	positions := &fakePositionSource{positions: map[string]*types.Position{
		"600519.SH": {StockCode: "600519.SH", Volume: 1000, HighestPrice: 10.00, ProfitTriggered: true, CostPrice: 9.5},
	}}
	br := broker.NewSimulationBroker(1_000_000)
	feed := marketdata.NewSimulationFeed()
	feed.SetTick("600519.SH", marketdata.Tick{Last: 9.40})
	cfg := config.Default()
	gridMgr := grid.NewManager(st, positions, br, cfg, nil)

	sess, err := gridMgr.Start(context.Background(), grid.StartParams{
		StockCode: "600519.SH", PriceInterval: 0.05, CallbackRatio: 0.005, MaxInvestment: 35000,
	})
	require.NoError(t, err)

	ordersMgr := NewManager(st, br, feed, gridMgr, cfg, nil, "acct1")

	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalGridBuy, TriggerPrice: 9.40, GridLevel: 9.50, Strategy: "grid"}
	require.NoError(t, ordersMgr.Submit(context.Background(), sig))

	got, err := st.GetGridSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.BuyCount)
	assert.False(t, ordersMgr.HasPendingSell("600519.SH"), "grid buys never populate pending_sells")
}

func TestSubmit_SellBlocksUntilRateLimiterHasATokenThenSucceeds(t *testing.T) {
	m, st, _, _ := newTestManager(t, func(c *config.Config) {
		c.BrokerOrderRateLimit = 1
		c.BrokerOrderRateBurst = 1
	})
	require.NoError(t, st.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 2000, Available: 2000, CostPrice: 90}))

	// drain the single token so the second submit must wait for a refill.
	require.True(t, m.rateLim.Allow())

	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalStopLoss, Volume: 1000, Strategy: "dynamic_stop_profit"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, m.Submit(ctx, sig))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond, "submit must block for a refill, not bypass the limiter")
}

func TestSubmit_SellFailsFastWhenContextExpiresWaitingOnRateLimiter(t *testing.T) {
	m, st, _, _ := newTestManager(t, func(c *config.Config) {
		c.BrokerOrderRateLimit = 1
		c.BrokerOrderRateBurst = 1
	})
	require.NoError(t, st.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 1000, Available: 1000, CostPrice: 90}))
	require.True(t, m.rateLim.Allow())

	sig := types.Signal{StockCode: "600519.SH", SignalType: types.SignalStopLoss, Volume: 1000, Strategy: "dynamic_stop_profit"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.Submit(ctx, sig)
	assert.Error(t, err)
	assert.False(t, m.HasPendingSell("600519.SH"))
}
