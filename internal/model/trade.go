package model

import "time"

// Direction is the side of a trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Side returns the broker order side that opens the trade.
func (d Direction) Side() string {
	if d == Short {
		return "SELL"
	}
	return "BUY"
}

// Opposite returns the broker order side that closes the trade.
func (d Direction) Opposite() string {
	if d == Short {
		return "BUY"
	}
	return "SELL"
}

// TradeState is a stage in the trade lifecycle.
type TradeState string

const (
	StateSignalGenerated TradeState = "SIGNAL_GENERATED"
	StateEntryPending    TradeState = "ENTRY_PENDING"
	StateOrderPlaced     TradeState = "ORDER_PLACED"
	StatePositionOpen    TradeState = "POSITION_OPEN"
	StateExitPending     TradeState = "EXIT_PENDING"
	StateClosed          TradeState = "CLOSED"
)

// Terminal reports whether the state admits no further transitions.
func (s TradeState) Terminal() bool { return s == StateClosed }

// Close reasons recorded on the trades row and the CLOSED event.
const (
	CloseReasonExit        = "exit"
	CloseReasonTimeout     = "timeout"
	CloseReasonExitTimeout = "exit-timeout"
	CloseReasonFailed      = "execution-failed"
)

// TradeRecord is the persisted shape of a trade, one row per pos_id.
type TradeRecord struct {
	DBID        int64      `json:"db_id"`
	PosID       string     `json:"pos_id"`
	Symbol      string     `json:"symbol"`
	Direction   Direction  `json:"direction"`
	Qty         int64      `json:"qty"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	State       TradeState `json:"state"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	PnL         float64    `json:"pnl"`
}
