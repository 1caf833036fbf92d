package types

import "time"

// Position is the durable record of one held symbol and its cost basis (§3.1).
type Position struct {
	StockCode                string    `json:"stock_code"`
	Volume                   int64     `json:"volume"`
	Available                int64     `json:"available"`
	CostPrice                float64   `json:"cost_price"`
	CurrentPrice             float64   `json:"current_price"`
	OpenDate                 time.Time `json:"open_date"`
	HighestPrice             float64   `json:"highest_price"`
	ProfitTriggered          bool      `json:"profit_triggered"`
	ProfitBreakoutTriggered  bool      `json:"profit_breakout_triggered"`
	BreakoutHighestPrice     float64   `json:"breakout_highest_price"`
	StopLossPrice            float64   `json:"stop_loss_price"`
	FilledAddTiers           []int     `json:"filled_add_tiers"` // indices into config.BuyGridLevels already compensated (§4.4(c))
}

// HasFilledAddTier reports whether tier has already fired an add_position.
func (p *Position) HasFilledAddTier(tier int) bool {
	for _, t := range p.FilledAddTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// IsClosed reports whether the position is logically closed (§3.1).
func (p *Position) IsClosed() bool { return p.Volume == 0 }

// GridSessionStatus is the lifecycle state of a GridSession (§3.2).
type GridSessionStatus string

const (
	GridSessionActive  GridSessionStatus = "active"
	GridSessionStopped GridSessionStatus = "stopped"
)

// GridStopReason records why a GridSession stopped (§4.3 step 2).
type GridStopReason string

const (
	StopReasonNone            GridStopReason = ""
	StopReasonDeviation       GridStopReason = "deviation"
	StopReasonTargetProfit    GridStopReason = "target_profit"
	StopReasonStopLoss        GridStopReason = "stop_loss"
	StopReasonExpired         GridStopReason = "expired"
	StopReasonPositionCleared GridStopReason = "position_cleared"
	StopReasonUserRequested   GridStopReason = "user_requested"
)

// GridSession represents one active grid-trading engagement on one symbol (§3.2).
type GridSession struct {
	ID                  int64             `json:"id"`
	StockCode           string            `json:"stock_code"`
	Status              GridSessionStatus `json:"status"`
	CenterPrice         float64           `json:"center_price"`
	CurrentCenterPrice  float64           `json:"current_center_price"`
	PriceInterval       float64           `json:"price_interval"`
	CallbackRatio       float64           `json:"callback_ratio"`
	PositionRatio       float64           `json:"position_ratio"`
	MaxInvestment       float64           `json:"max_investment"`
	CurrentInvestment   float64           `json:"current_investment"`
	MaxDeviation        float64           `json:"max_deviation"`
	TargetProfit        float64           `json:"target_profit"`
	StopLoss            float64           `json:"stop_loss"`
	TradeCount          int64             `json:"trade_count"`
	BuyCount            int64             `json:"buy_count"`
	SellCount           int64             `json:"sell_count"`
	TotalBuyAmount      float64           `json:"total_buy_amount"`
	TotalSellAmount     float64           `json:"total_sell_amount"`
	StartTime           time.Time         `json:"start_time"`
	EndTime             time.Time         `json:"end_time"`
	StopTime            time.Time         `json:"stop_time"`
	StopReason          GridStopReason    `json:"stop_reason"`
}

// ProfitRatio is the session profit ratio defined in §3.2:
// (total_sell_amount - total_buy_amount) / max_investment.
func (s *GridSession) ProfitRatio() float64 {
	if s.MaxInvestment == 0 {
		return 0
	}
	return (s.TotalSellAmount - s.TotalBuyAmount) / s.MaxInvestment
}

// Profit is the session profit defined in §3.2: ProfitRatio * max_investment.
func (s *GridSession) Profit() float64 {
	return s.ProfitRatio() * s.MaxInvestment
}

// GridTradeType distinguishes BUY and SELL fills logged against a session.
type GridTradeType string

const (
	GridTradeBuy  GridTradeType = "BUY"
	GridTradeSell GridTradeType = "SELL"
)

// GridTrade is an append-only record of one grid fill (§3.3).
type GridTrade struct {
	ID                int64         `json:"id"`
	SessionID         int64         `json:"session_id"`
	StockCode         string        `json:"stock_code"`
	TradeType         GridTradeType `json:"trade_type"`
	GridLevel         float64       `json:"grid_level"`
	TriggerPrice      float64       `json:"trigger_price"`
	Volume            int64         `json:"volume"`
	Amount            float64       `json:"amount"`
	PeakPrice         float64       `json:"peak_price,omitempty"`
	ValleyPrice       float64       `json:"valley_price,omitempty"`
	CallbackRatio     float64       `json:"callback_ratio"`
	TradeID           string        `json:"trade_id"`
	TradeTime         time.Time     `json:"trade_time"`
	GridCenterBefore  float64       `json:"grid_center_before"`
	GridCenterAfter   float64       `json:"grid_center_after"`
}

// TrackerDirection is the PriceTracker's current sweep direction (§3.4).
type TrackerDirection string

const (
	DirectionNone    TrackerDirection = "none"
	DirectionRising  TrackerDirection = "rising"
	DirectionFalling TrackerDirection = "falling"
)

// TradeSide distinguishes broker order sides.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeRecord is an append-only audit row of every submitted user trade (§4.1, §6.4).
type TradeRecord struct {
	ID         int64     `json:"id"`
	StockCode  string    `json:"stock_code"`
	Side       TradeSide `json:"side"`
	Price      float64   `json:"price"`
	Volume     int64     `json:"volume"`
	Amount     float64   `json:"amount"`
	BrokerID   string    `json:"broker_id"`
	Strategy   string    `json:"strategy"`
	Timestamp  time.Time `json:"timestamp"`
}

// SignalType enumerates the actionable signals C4/C3 may emit (§1, §4.4).
type SignalType string

const (
	SignalStopLoss        SignalType = "stop_loss"
	SignalTakeProfitHalf  SignalType = "take_profit_half"
	SignalTakeProfitFull  SignalType = "take_profit_full"
	SignalAddPosition     SignalType = "add_position"
	SignalGridBuy         SignalType = "grid_buy"
	SignalGridSell        SignalType = "grid_sell"
)

// Signal is a single actionable trading decision produced by C4 or C3.
type Signal struct {
	StockCode     string     `json:"stock_code"`
	Strategy      string     `json:"strategy"` // "dynamic_stop_profit" | "grid"
	SignalType    SignalType `json:"signal_type"`
	Price         float64    `json:"price"`
	Volume        int64      `json:"volume"`
	SellRatio     float64    `json:"sell_ratio,omitempty"`
	Amount        float64    `json:"amount,omitempty"`
	GridLevel     float64    `json:"grid_level,omitempty"`
	TriggerPrice  float64    `json:"trigger_price,omitempty"`
	SessionID     int64      `json:"session_id,omitempty"`
	PeakPrice     float64    `json:"peak_price,omitempty"`
	ValleyPrice   float64    `json:"valley_price,omitempty"`
	CallbackRatio float64    `json:"callback_ratio,omitempty"`
	CostPrice     float64    `json:"cost_price,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Tick is one market-data observation for a symbol (§6.2).
type Tick struct {
	StockCode string
	Last      float64
	High      float64
	Low       float64
	Bid       []float64 // bid1..N, best first
	Ask       []float64 // ask1..N, best first
	Timestamp time.Time
}

// PendingSellOrder is the in-memory record of one in-flight sell per symbol (§3.5).
type PendingSellOrder struct {
	OrderID    string
	SignalType SignalType
	Signal     Signal
	SubmitTime time.Time
}
