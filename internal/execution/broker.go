// Package execution turns strategy signals into broker orders and guards the
// trades they open: the Orchestrator is the single entry point for all
// signal processing, the Monitor times out orders stuck without a fill, and
// the SlippageGuard unwinds entries filled too far from their reference
// price.
//
// The broker itself is an external collaborator consumed through the narrow
// Broker interface below. Two implementations live in this package: a paper
// broker for simulation and an HTTP bridge for a live execution sidecar.
package execution

import (
	"context"
	"errors"
)

// Execution error taxonomy. ErrExecutionFailed wraps broker call errors; the
// affected context is rolled back and no order is considered placed.
// ErrTradingDisabled is the risk guard's veto, informational rather than an
// error state.
var (
	ErrExecutionFailed = errors.New("execution failed")
	ErrTradingDisabled = errors.New("trading disabled")
)

// OrderStatus is a normalized view of a broker order query.
type OrderStatus struct {
	Status    string  `json:"status"` // OPEN, FILLED, CANCELLED, REJECTED
	FillPrice float64 `json:"fill_price"`
	FilledQty int64   `json:"filled_qty"`
}

// Broker is the minimal capability the engine needs from an execution
// backend. Calls may fail transiently; the engine never retries placement on
// its own (a retry is a fresh signal from the strategy layer).
type Broker interface {
	Name() string
	PlaceOrder(ctx context.Context, symbol, side string, qty int64) (string, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)
	QueryOrder(ctx context.Context, brokerOrderID string) (OrderStatus, error)
}

type posIDKey struct{}

// WithPosID tags ctx with the trade identifier an order belongs to, so
// broker implementations that emit fills can attribute them.
func WithPosID(ctx context.Context, posID string) context.Context {
	return context.WithValue(ctx, posIDKey{}, posID)
}

// PosIDFrom extracts the trade identifier set by WithPosID ("" if unset).
func PosIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(posIDKey{}).(string)
	return v
}
