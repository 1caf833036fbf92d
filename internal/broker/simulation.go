package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SimulationBroker is a paper-trading adapter: every order fills
// synchronously at the requested price, with no network round trip and no
// partial fills (§4.5 simulation mode).
type SimulationBroker struct {
	mu         sync.Mutex
	dispatcher *Dispatcher
	seq        int64
	orders     map[string]simOrder
	cash       float64
	positions  map[string]AccountPosition
}

type simOrder struct {
	stockCode string
	side      OrderSide
	price     float64
	volume    int64
	status    OrderStatus
}

func NewSimulationBroker(startingCash float64) *SimulationBroker {
	return &SimulationBroker{
		dispatcher: NewDispatcher(nil),
		orders:     make(map[string]simOrder),
		positions:  make(map[string]AccountPosition),
		cash:       startingCash,
	}
}

// nextOrderID mints a SIM_{SIDE}_{unix_ns}_{seq} id (§4.5), where seq is a
// per-broker counter that keeps ids unique within the same nanosecond.
func (b *SimulationBroker) nextOrderID(side OrderSide) string {
	n := atomic.AddInt64(&b.seq, 1)
	return fmt.Sprintf("SIM_%s_%d_%d", side, time.Now().UnixNano(), n)
}

func (b *SimulationBroker) OrderStock(ctx context.Context, account, stockCode string, side OrderSide, price float64, volume int64, strategyTag string) (string, error) {
	b.mu.Lock()
	orderID := b.nextOrderID(side)
	amount := price * float64(volume)

	pos := b.positions[stockCode]
	switch side {
	case SideBuy:
		b.cash -= amount
		pos.Volume += volume
		pos.Available += volume
		pos.StockCode = stockCode
	case SideSell:
		b.cash += amount
		pos.Volume -= volume
		pos.Available -= volume
	}
	b.positions[stockCode] = pos
	b.orders[orderID] = simOrder{stockCode: stockCode, side: side, price: price, volume: volume, status: StatusFilled}
	b.mu.Unlock()

	b.dispatcher.Dispatch(FillEvent{
		OrderID:      orderID,
		StockCode:    stockCode,
		Side:         side,
		TradedVolume: volume,
		TradedPrice:  price,
		TradedAmount: amount,
		AccountID:    account,
		StrategyTag:  strategyTag,
		Timestamp:    time.Now(),
	})
	return orderID, nil
}

// CancelOrder always fails: a simulated order is filled before it can return
// to the caller, so there is never anything left to cancel (§4.5).
func (b *SimulationBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return false, nil
}

func (b *SimulationBroker) QueryOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return "", fmt.Errorf("simulation broker: unknown order %s", orderID)
	}
	return o.status, nil
}

func (b *SimulationBroker) QueryPositions(ctx context.Context, account string) ([]AccountPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AccountPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

func (b *SimulationBroker) QueryAccount(ctx context.Context, account string) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.cash
	return Account{Cash: b.cash, TotalAsset: total}, nil
}

func (b *SimulationBroker) RegisterFillHandler(h FillHandler) {
	b.dispatcher.Register(h)
}
