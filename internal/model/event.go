// Package model defines the domain types shared across the execution engine:
// lifecycle events, trade states, and persisted trade records.
//
// Every lifecycle event is a tagged variant with one concrete struct per
// event type, so handlers can switch exhaustively instead of probing an
// open-ended payload map.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle event variant.
type EventType string

const (
	EvEntrySignal   EventType = "ENTRY_SIGNAL"
	EvExitSignal    EventType = "EXIT_SIGNAL"
	EvOrderPlaced   EventType = "ORDER_PLACED"
	EvOrderFilled   EventType = "ORDER_FILLED"
	EvOrderTimeout  EventType = "ORDER_TIMEOUT"
	EvOrderSlippage EventType = "ORDER_SLIPPAGE"
	EvTradeClosed   EventType = "CLOSED"
)

// Event is the interface implemented by all lifecycle events.
// Events are immutable once published; they form the audit trail.
type Event interface {
	Type() EventType
	TradeID() string // pos_id the event refers to
	EmittedAt() time.Time
}

// Meta carries the common fields of every event.
type Meta struct {
	ID      string    `json:"id"`
	PosID   string    `json:"pos_id"`
	Emitted time.Time `json:"emitted_at"`
}

// NewMeta stamps a fresh event identity for pos_id.
func NewMeta(posID string) Meta {
	return Meta{ID: uuid.NewString(), PosID: posID, Emitted: time.Now().UTC()}
}

func (m Meta) TradeID() string      { return m.PosID }
func (m Meta) EmittedAt() time.Time { return m.Emitted }

// EntrySignal asks the engine to open a trade.
type EntrySignal struct {
	Meta
	Symbol         string    `json:"symbol"`
	Direction      Direction `json:"direction"`
	Qty            int64     `json:"qty"`
	ReferencePrice float64   `json:"reference_price"`
}

func (EntrySignal) Type() EventType { return EvEntrySignal }

// ExitSignal asks the engine to unwind an open trade.
type ExitSignal struct {
	Meta
	Reason string `json:"reason,omitempty"` // e.g. "strategy", "slippage"
}

func (ExitSignal) Type() EventType { return EvExitSignal }

// OrderPlaced records that a broker order was accepted for the trade.
type OrderPlaced struct {
	Meta
	BrokerOrderID string `json:"broker_order_id"`
	Exit          bool   `json:"exit"` // true for the closing order
}

func (OrderPlaced) Type() EventType { return EvOrderPlaced }

// OrderFilled reports a broker fill.
type OrderFilled struct {
	Meta
	BrokerOrderID string  `json:"broker_order_id"`
	FillPrice     float64 `json:"fill_price"`
	FilledQty     int64   `json:"filled_qty"`
}

func (OrderFilled) Type() EventType { return EvOrderFilled }

// OrderTimeout reports that an order passed its fill deadline.
type OrderTimeout struct {
	Meta
	BrokerOrderID string    `json:"broker_order_id"`
	Deadline      time.Time `json:"deadline"`
}

func (OrderTimeout) Type() EventType { return EvOrderTimeout }

// OrderSlippage reports an entry fill deviating beyond the allowed threshold.
type OrderSlippage struct {
	Meta
	ReferencePrice float64 `json:"reference_price"`
	FillPrice      float64 `json:"fill_price"`
	DeviationPct   float64 `json:"deviation_pct"`
}

func (OrderSlippage) Type() EventType { return EvOrderSlippage }

// TradeClosed reports a trade reaching its terminal state.
type TradeClosed struct {
	Meta
	CloseReason string  `json:"close_reason"`
	PnL         float64 `json:"pnl"`
}

func (TradeClosed) Type() EventType { return EvTradeClosed }
