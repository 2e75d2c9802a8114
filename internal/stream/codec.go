package stream

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrBadEntry marks a stream entry that fails boundary validation. Malformed
// entries are a domain error: logged and skipped, never retried by the
// processing loop itself.
var ErrBadEntry = errors.New("stream: malformed entry")

// PriceUpdate is a decoded price-updates-stream entry.
type PriceUpdate struct {
	Asset     string
	Price     decimal.Decimal
	Timestamp time.Time
}

// TradeRequest is a decoded trade-requests-stream entry.
type TradeRequest struct {
	Asset     string
	UserID    string
	Side      string // "buy" or "sell"
	Leverage  decimal.Decimal
	Margin    decimal.Decimal
	Slippage  decimal.Decimal
	Timestamp time.Time
}

// CloseRequest is a decoded trade-close-stream entry.
type CloseRequest struct {
	OrderID   string
	UserID    string
	Timestamp time.Time
}

// DecodePriceUpdate validates and decodes a price entry.
// Expected fields: {asset, price, timestamp}.
func DecodePriceUpdate(msg redis.XMessage) (PriceUpdate, error) {
	asset, err := field(msg, "asset")
	if err != nil {
		return PriceUpdate{}, err
	}
	price, err := decimalField(msg, "price")
	if err != nil {
		return PriceUpdate{}, err
	}
	if !price.IsPositive() {
		return PriceUpdate{}, fmt.Errorf("%w: price must be positive, got %s", ErrBadEntry, price)
	}
	return PriceUpdate{
		Asset:     asset,
		Price:     price,
		Timestamp: timestampField(msg),
	}, nil
}

// DecodeTradeRequest validates and decodes a trade request entry.
// Expected fields: {asset, type, leverage, margin, slippage, userId, timestamp}.
func DecodeTradeRequest(msg redis.XMessage) (TradeRequest, error) {
	asset, err := field(msg, "asset")
	if err != nil {
		return TradeRequest{}, err
	}
	userID, err := field(msg, "userId")
	if err != nil {
		return TradeRequest{}, err
	}
	side, err := field(msg, "type")
	if err != nil {
		return TradeRequest{}, err
	}
	leverage, err := decimalField(msg, "leverage")
	if err != nil {
		return TradeRequest{}, err
	}
	margin, err := decimalField(msg, "margin")
	if err != nil {
		return TradeRequest{}, err
	}
	slippage, err := decimalField(msg, "slippage")
	if err != nil {
		return TradeRequest{}, err
	}
	return TradeRequest{
		Asset:     asset,
		UserID:    userID,
		Side:      side,
		Leverage:  leverage,
		Margin:    margin,
		Slippage:  slippage,
		Timestamp: timestampField(msg),
	}, nil
}

// DecodeCloseRequest validates and decodes a close request entry.
// Expected fields: {orderId, userId, timestamp}.
func DecodeCloseRequest(msg redis.XMessage) (CloseRequest, error) {
	orderID, err := field(msg, "orderId")
	if err != nil {
		return CloseRequest{}, err
	}
	userID, err := field(msg, "userId")
	if err != nil {
		return CloseRequest{}, err
	}
	return CloseRequest{
		OrderID:   orderID,
		UserID:    userID,
		Timestamp: timestampField(msg),
	}, nil
}

// field extracts a required non-empty string field.
func field(msg redis.XMessage, key string) (string, error) {
	v, ok := msg.Values[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", ErrBadEntry, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: field %q is empty or not a string", ErrBadEntry, key)
	}
	return s, nil
}

// decimalField extracts a required decimal field.
func decimalField(msg redis.XMessage, key string) (decimal.Decimal, error) {
	s, err := field(msg, key)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: field %q is not a number: %q", ErrBadEntry, key, s)
	}
	return d, nil
}

// timestampField extracts the optional millisecond timestamp, falling back
// to now when absent or unparseable. Producers always include it, but a bad
// clock field alone should not drop an otherwise valid entry.
func timestampField(msg redis.XMessage) time.Time {
	s, err := field(msg, "timestamp")
	if err != nil {
		return time.Now().UTC()
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
