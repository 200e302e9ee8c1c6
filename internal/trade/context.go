// Package trade owns the per-trade lifecycle: one TradeContext per active
// pos_id, advanced only through event-driven transitions validated against
// the lifecycle table. The Machine is the single writer of every context;
// other components observe snapshots and communicate via events.
package trade

import (
	"time"

	"exec-enginev1/internal/model"
)

// Context is the mutable per-trade state. Exactly one non-terminal Context
// exists per pos_id at any time; closed contexts are dropped from the active
// set (their persisted trades row remains).
type Context struct {
	PosID          string
	Symbol         string
	Direction      model.Direction
	RequestedQty   int64
	ReferencePrice float64
	State          model.TradeState
	BrokerOrderID  string // entry order
	ExitOrderID    string // closing order, set when the exit is placed
	DBID           int64
	EntryPrice     float64
	ExitPrice      float64
	OpenedAt       time.Time
	ClosedAt       time.Time
	CloseReason    string
}

// PnL returns the realized profit for a closed trade, signed by direction.
func (c *Context) PnL() float64 {
	if c.EntryPrice == 0 || c.ExitPrice == 0 {
		return 0
	}
	if c.Direction == model.Short {
		return (c.EntryPrice - c.ExitPrice) * float64(c.RequestedQty)
	}
	return (c.ExitPrice - c.EntryPrice) * float64(c.RequestedQty)
}

// Record converts the context to its persisted form.
func (c *Context) Record() model.TradeRecord {
	rec := model.TradeRecord{
		DBID:        c.DBID,
		PosID:       c.PosID,
		Symbol:      c.Symbol,
		Direction:   c.Direction,
		Qty:         c.RequestedQty,
		EntryPrice:  c.EntryPrice,
		ExitPrice:   c.ExitPrice,
		State:       c.State,
		OpenedAt:    c.OpenedAt,
		CloseReason: c.CloseReason,
		PnL:         c.PnL(),
	}
	if !c.ClosedAt.IsZero() {
		t := c.ClosedAt
		rec.ClosedAt = &t
	}
	return rec
}
