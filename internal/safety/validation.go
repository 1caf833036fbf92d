package safety

import (
	"fmt"
	"math"
	"strings"
	"time"

	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

// ValidationResult is the outcome of one defensive check.
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Validator provides defensive validation methods, including the daemon's
// choke-point signal validator (§4.4 step 5) that every C4 candidate signal
// must pass before C5 ever sees it; the monitor publishes C3 grid signals
// without calling it.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	if price <= 0 {
		return ValidationResult{false, fmt.Sprintf("invalid price %.4f for %s: must be positive", price, symbol), "INVALID_PRICE_NON_POSITIVE"}
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return ValidationResult{false, fmt.Sprintf("invalid price for %s: not a finite number", symbol), "INVALID_PRICE_NOT_FINITE"}
	}
	return ValidationResult{Valid: true}
}

func (v *Validator) ValidateQuantity(quantity int64, symbol string) ValidationResult {
	if quantity <= 0 {
		return ValidationResult{false, fmt.Sprintf("invalid volume %d for %s: must be positive", quantity, symbol), "INVALID_VOLUME_NON_POSITIVE"}
	}
	return ValidationResult{Valid: true}
}

func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return ValidationResult{false, "stock_code cannot be empty", "SYMBOL_EMPTY"}
	}
	return ValidationResult{Valid: true}
}

func (v *Validator) ValidatePercentageRange(percentage, min, max float64, context string) ValidationResult {
	if math.IsNaN(percentage) {
		return ValidationResult{false, fmt.Sprintf("%s is NaN", context), "PERCENTAGE_NAN"}
	}
	if percentage < min || percentage > max {
		return ValidationResult{false, fmt.Sprintf("%s %.4f outside [%.4f, %.4f]", context, percentage, min, max), "PERCENTAGE_OUT_OF_RANGE"}
	}
	return ValidationResult{Valid: true}
}

func (v *Validator) ValidateTimestamp(timestamp time.Time, context string) ValidationResult {
	now := time.Now()
	if timestamp.Before(now.AddDate(-1, 0, 0)) {
		return ValidationResult{false, fmt.Sprintf("%s timestamp %v is more than a year old", context, timestamp), "TIMESTAMP_TOO_OLD"}
	}
	if timestamp.After(now.Add(time.Hour)) {
		return ValidationResult{false, fmt.Sprintf("%s timestamp %v is too far in the future", context, timestamp), "TIMESTAMP_FUTURE"}
	}
	return ValidationResult{Valid: true}
}

func (v *Validator) SafeDivision(dividend, divisor float64) (float64, error) {
	if divisor == 0 {
		return 0, fmt.Errorf("division by zero: %.8f / %.8f", dividend, divisor)
	}
	result := dividend / divisor
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("division produced a non-finite result: %.8f / %.8f", dividend, divisor)
	}
	return result, nil
}

// minStopLossLossRatio is the floor below which a stop_loss signal is
// rejected as implausible rather than acted on (§4.4 step 5).
const minStopLossLossRatio = -0.03

// ValidateSignal is the single choke point every signal crosses before a
// submission is attempted: malformed signals are rejected here rather than
// by the broker adapter, so invalid input never reaches C5 (§4.4 step 5,
// §9 "validation as choke point").
func (v *Validator) ValidateSignal(sig types.Signal, pos *types.Position, hasPendingSell bool, allowTakeProfitFullWithPending bool) *tradingerrors.TradingError {
	if r := v.ValidateSymbol(sig.StockCode); !r.Valid {
		return tradingerrors.NewValidationError("safety", "ValidateSignal", r.Message)
	}
	if r := v.ValidatePrice(sig.Price, sig.StockCode); !r.Valid {
		return tradingerrors.NewValidationError("safety", "ValidateSignal", r.Message)
	}

	costPrice := sig.CostPrice
	if costPrice == 0 && pos != nil {
		costPrice = pos.CostPrice
	}

	switch sig.SignalType {
	case types.SignalStopLoss:
		if costPrice <= 0 {
			return tradingerrors.NewValidationError("safety", "ValidateSignal", "stop_loss requires a known cost price")
		}
		lossRatio := (sig.Price - costPrice) / costPrice
		if lossRatio > minStopLossLossRatio {
			return tradingerrors.NewValidationError("safety", "ValidateSignal",
				fmt.Sprintf("stop_loss loss ratio %.4f does not clear the %.4f floor", lossRatio, minStopLossLossRatio))
		}
		if r := v.ValidateQuantity(sig.Volume, sig.StockCode); !r.Valid {
			return tradingerrors.NewValidationError("safety", "ValidateSignal", r.Message)
		}

	case types.SignalTakeProfitHalf:
		if hasPendingSell {
			return tradingerrors.NewPreconditionError("safety", "ValidateSignal", "take_profit_half rejected: a sell is already in flight")
		}
		if r := v.ValidatePercentageRange(sig.SellRatio, 0, 1, "sell_ratio"); !r.Valid {
			return tradingerrors.NewValidationError("safety", "ValidateSignal", r.Message)
		}

	case types.SignalTakeProfitFull:
		if hasPendingSell && !allowTakeProfitFullWithPending {
			return tradingerrors.NewPreconditionError("safety", "ValidateSignal", "take_profit_full rejected: a sell is already in flight")
		}
		if r := v.ValidateQuantity(sig.Volume, sig.StockCode); !r.Valid {
			return tradingerrors.NewValidationError("safety", "ValidateSignal", r.Message)
		}

	case types.SignalAddPosition, types.SignalGridBuy:
		if r := v.ValidateQuantity(sig.Volume, sig.StockCode); !r.Valid {
			return tradingerrors.NewValidationError("safety", "ValidateSignal", r.Message)
		}

	case types.SignalGridSell:
		if r := v.ValidateQuantity(sig.Volume, sig.StockCode); !r.Valid {
			return tradingerrors.NewValidationError("safety", "ValidateSignal", r.Message)
		}

	default:
		return tradingerrors.NewValidationError("safety", "ValidateSignal", fmt.Sprintf("unknown signal type %q", sig.SignalType))
	}

	return nil
}

// ValidateGridConfig sanity-checks a grid session's ratios at start time,
// mirroring config.Config.Validate's bounds but against session-specific
// overrides supplied at session-start (§4.3 preconditions).
func (v *Validator) ValidateGridConfig(priceInterval, callbackRatio, positionRatio float64) *tradingerrors.TradingError {
	if r := v.ValidatePercentageRange(priceInterval, 1e-4, 0.2, "grid_price_interval"); !r.Valid {
		return tradingerrors.NewValidationError("safety", "ValidateGridConfig", r.Message)
	}
	if r := v.ValidatePercentageRange(callbackRatio, 1e-4, 0.05, "grid_callback_ratio"); !r.Valid {
		return tradingerrors.NewValidationError("safety", "ValidateGridConfig", r.Message)
	}
	if r := v.ValidatePercentageRange(positionRatio, 1e-4, 1, "grid_position_ratio"); !r.Valid {
		return tradingerrors.NewValidationError("safety", "ValidateGridConfig", r.Message)
	}
	return nil
}
