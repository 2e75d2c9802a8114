// Package executor implements the pure execution math for leveraged trades:
// slippage-adjusted fills at open and realized PnL at close.
//
// The package is stateless and does no I/O — current prices are passed as
// arguments, which makes every formula unit-testable without a runner.
// All monetary values use shopspring/decimal — never float64 for money.
package executor

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltex/trade-engine/internal/model"
)

var (
	// ErrInvalidSide is returned when the side is neither "buy" nor "sell".
	ErrInvalidSide = errors.New("executor: side must be buy or sell")

	// ErrInvalidLeverage is returned when leverage < 1.
	ErrInvalidLeverage = errors.New("executor: leverage must be at least 1")

	// ErrInvalidMargin is returned when margin <= 0.
	ErrInvalidMargin = errors.New("executor: margin must be positive")

	// ErrInvalidPrice is returned when the current price <= 0.
	ErrInvalidPrice = errors.New("executor: price must be positive")
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Request carries the validated inputs for opening a position.
type Request struct {
	Asset    string
	UserID   string
	Side     string          // "buy" or "sell"
	Leverage decimal.Decimal // >= 1
	Margin   decimal.Decimal // > 0
	Slippage decimal.Decimal // percent, applied against the trader
}

// Execute turns a trade request and the current price into a new Order.
//
//	slippageMultiplier = side==buy ? 1 + slippage/100 : 1 - slippage/100
//	executionPrice     = currentPrice * slippageMultiplier
//	positionValue      = margin * leverage
//	quantity           = positionValue / executionPrice
//
// The order gets a fresh uuid and the current UTC timestamp; everything else
// is deterministic given the inputs.
func Execute(req Request, currentPrice decimal.Decimal) (model.Order, error) {
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return model.Order{}, ErrInvalidSide
	}
	if req.Leverage.LessThan(one) {
		return model.Order{}, ErrInvalidLeverage
	}
	if !req.Margin.IsPositive() {
		return model.Order{}, ErrInvalidMargin
	}
	if !currentPrice.IsPositive() {
		return model.Order{}, ErrInvalidPrice
	}

	slip := req.Slippage.Div(hundred)
	multiplier := one.Add(slip)
	if req.Side == model.SideSell {
		multiplier = one.Sub(slip)
	}

	executionPrice := currentPrice.Mul(multiplier)
	if !executionPrice.IsPositive() {
		return model.Order{}, ErrInvalidPrice
	}
	positionValue := req.Margin.Mul(req.Leverage)
	quantity := positionValue.Div(executionPrice)

	return model.Order{
		OrderID:        uuid.New().String(),
		UserID:         req.UserID,
		Asset:          req.Asset,
		Side:           req.Side,
		Quantity:       quantity,
		ExecutionPrice: executionPrice,
		PositionValue:  positionValue,
		Margin:         req.Margin,
		Leverage:       req.Leverage,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// ClosePnL computes the realized profit or loss of closing an order at the
// given price:
//
//	priceChange = closePrice - executionPrice
//	direction   = side==buy ? +1 : -1
//	pnl         = priceChange * direction * quantity
func ClosePnL(order model.Order, closePrice decimal.Decimal) decimal.Decimal {
	change := closePrice.Sub(order.ExecutionPrice)
	if order.Side == model.SideSell {
		change = change.Neg()
	}
	return change.Mul(order.Quantity)
}
