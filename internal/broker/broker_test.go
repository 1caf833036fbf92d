package broker

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationBroker_OrderStockFillsSynchronouslyAndMovesCash(t *testing.T) {
	b := NewSimulationBroker(100000)
	ctx := context.Background()

	orderID, err := b.OrderStock(ctx, "acct1", "600519.SH", SideBuy, 100.0, 100, "dynamic_stop_profit")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(orderID, "SIM_BUY_"))

	status, err := b.QueryOrderStatus(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, status)

	acct, err := b.QueryAccount(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, 90000.0, acct.Cash)

	positions, err := b.QueryPositions(ctx, "acct1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(100), positions[0].Volume)
}

func TestSimulationBroker_SellReducesPositionAndAddsCash(t *testing.T) {
	b := NewSimulationBroker(100000)
	ctx := context.Background()

	_, err := b.OrderStock(ctx, "acct1", "600519.SH", SideBuy, 100.0, 200, "grid")
	require.NoError(t, err)
	_, err = b.OrderStock(ctx, "acct1", "600519.SH", SideSell, 110.0, 100, "grid")
	require.NoError(t, err)

	positions, err := b.QueryPositions(ctx, "acct1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(100), positions[0].Volume)

	acct, err := b.QueryAccount(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, 100000.0-100.0*200+110.0*100, acct.Cash)
}

func TestSimulationBroker_CancelOrderAlwaysFails(t *testing.T) {
	b := NewSimulationBroker(1000)
	ok, err := b.CancelOrder(context.Background(), "SIM_BUY_1_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimulationBroker_EachOrderIDIsUnique(t *testing.T) {
	b := NewSimulationBroker(1_000_000)
	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := b.OrderStock(ctx, "acct1", "600519.SH", SideBuy, 10.0, 100, "grid")
		require.NoError(t, err)
		assert.False(t, seen[id], "order id %s reused", id)
		seen[id] = true
	}
}

func TestSimulationBroker_RegisterFillHandler_DeliversFillEvent(t *testing.T) {
	b := NewSimulationBroker(100000)
	var got FillEvent
	var mu sync.Mutex
	b.RegisterFillHandler(func(evt FillEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = evt
	})

	_, err := b.OrderStock(context.Background(), "acct1", "600519.SH", SideBuy, 50.0, 100, "dynamic_stop_profit")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "600519.SH", got.StockCode)
	assert.Equal(t, int64(100), got.TradedVolume)
	assert.Equal(t, 5000.0, got.TradedAmount)
}

func TestDispatcher_IsolatesPanickingHandlerFromOthers(t *testing.T) {
	var panicked interface{}
	d := NewDispatcher(func(r interface{}) { panicked = r })

	secondCalled := false
	d.Register(func(FillEvent) { panic("boom") })
	d.Register(func(FillEvent) { secondCalled = true })

	d.Dispatch(FillEvent{StockCode: "600519.SH"})

	assert.True(t, secondCalled, "a panicking handler must not suppress delivery to the next one")
	assert.Equal(t, "boom", panicked)
}

func TestDispatcher_NoHandlersIsANoop(t *testing.T) {
	d := NewDispatcher(nil)
	assert.NotPanics(t, func() { d.Dispatch(FillEvent{}) })
}

func TestResolveSide(t *testing.T) {
	assert.Equal(t, SideBuy, ResolveSide("BUY"))
	assert.Equal(t, SideSell, ResolveSide("SELL"))
}

func TestSimulationBroker_QueryOrderStatusUnknownOrderErrors(t *testing.T) {
	b := NewSimulationBroker(1000)
	_, err := b.QueryOrderStatus(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}
