package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"exec-enginev1/internal/model"
	"exec-enginev1/internal/notification"
)

// ErrInvalidTransition is returned for any event that does not match the
// lifecycle table: missing context, terminal context, or wrong source state.
// It is the idempotency guard against duplicate signals and late fills.
var ErrInvalidTransition = errors.New("invalid transition")

// Publisher emits lifecycle events back onto the bus.
type Publisher interface {
	Publish(ev model.Event)
}

// Store persists trade records. Insert returns the database row id; Update
// rewrites the row on each subsequent transition.
type Store interface {
	Insert(rec model.TradeRecord) (int64, error)
	Update(rec model.TradeRecord) error
}

// Machine owns all active TradeContexts and applies lifecycle transitions.
type Machine struct {
	mu   sync.RWMutex
	pos  map[string]*Context
	pub  Publisher
	st   Store
	noti notification.Notifier
}

// NewMachine creates a Machine. st and noti may be nil (tests).
func NewMachine(pub Publisher, st Store, noti notification.Notifier) *Machine {
	return &Machine{pos: make(map[string]*Context), pub: pub, st: st, noti: noti}
}

// CreateEntry creates a context for an entry signal and moves it to
// ENTRY_PENDING. An entry for a pos_id with any live context is rejected.
func (m *Machine) CreateEntry(sig model.EntrySignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pos[sig.PosID]; ok {
		return fmt.Errorf("entry for active pos %s: %w", sig.PosID, ErrInvalidTransition)
	}
	c := &Context{
		PosID:          sig.PosID,
		Symbol:         sig.Symbol,
		Direction:      sig.Direction,
		RequestedQty:   sig.Qty,
		ReferencePrice: sig.ReferencePrice,
		State:          model.StateSignalGenerated,
		OpenedAt:       sig.Emitted,
	}
	c.State = model.StateEntryPending
	m.pos[sig.PosID] = c
	log.Printf("[trade] %s: created, state=%s", c.PosID, c.State)
	return nil
}

// SetDBID records the persisted row id on the context.
func (m *Machine) SetDBID(posID string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.pos[posID]; ok {
		c.DBID = id
	}
}

// DiscardEntry removes an ENTRY_PENDING context after a broker failure, so
// no dangling context survives a failed placement.
func (m *Machine) DiscardEntry(posID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.pos[posID]; ok && c.State == model.StateEntryPending {
		delete(m.pos, posID)
		log.Printf("[trade] %s: entry discarded after broker failure", posID)
	}
}

// RequestExit transitions POSITION_OPEN -> EXIT_PENDING.
func (m *Machine) RequestExit(posID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pos[posID]
	if !ok || c.State != model.StatePositionOpen {
		return m.reject(model.EvExitSignal, posID, c)
	}
	c.State = model.StateExitPending
	m.persist(c)
	log.Printf("[trade] %s: state=%s", posID, c.State)
	return nil
}

// RollbackExit returns EXIT_PENDING -> POSITION_OPEN after a broker failure.
func (m *Machine) RollbackExit(posID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.pos[posID]; ok && c.State == model.StateExitPending {
		c.State = model.StatePositionOpen
		m.persist(c)
		log.Printf("[trade] %s: exit rolled back, state=%s", posID, c.State)
	}
}

// Snapshot returns a copy of the context for posID.
func (m *Machine) Snapshot(posID string) (Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.pos[posID]
	if !ok {
		return Context{}, false
	}
	return *c, true
}

// Positions returns copies of all active contexts.
func (m *Machine) Positions() []Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Context, 0, len(m.pos))
	for _, c := range m.pos {
		out = append(out, *c)
	}
	return out
}

// HandleEvent applies bus-driven transitions: order placement, fills, and
// timeouts. Invalid events are logged and discarded, never applied.
func (m *Machine) HandleEvent(ev model.Event) {
	var err error
	switch e := ev.(type) {
	case model.OrderPlaced:
		err = m.applyPlaced(e)
	case model.OrderFilled:
		err = m.applyFilled(e)
	case model.OrderTimeout:
		err = m.applyTimeout(e)
	}
	if err != nil {
		log.Printf("[trade] rejected %s for %s: %v", ev.Type(), ev.TradeID(), err)
	}
}

func (m *Machine) applyPlaced(e model.OrderPlaced) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pos[e.PosID]
	switch {
	case ok && c.State == model.StateEntryPending && !e.Exit:
		c.State = model.StateOrderPlaced
		c.BrokerOrderID = e.BrokerOrderID
	case ok && c.State == model.StateExitPending && e.Exit:
		// state unchanged, closing order id recorded
		c.ExitOrderID = e.BrokerOrderID
	default:
		return m.reject(model.EvOrderPlaced, e.PosID, c)
	}
	m.persist(c)
	log.Printf("[trade] %s: order %s placed (exit=%v), state=%s", e.PosID, e.BrokerOrderID, e.Exit, c.State)
	return nil
}

// applyFilled matches a fill against the order the context is actually
// waiting on. State alone is not enough: a replayed or retransmitted entry
// fill arriving while the exit is pending must not close the trade, so the
// event's order id has to equal the awaited one.
func (m *Machine) applyFilled(e model.OrderFilled) error {
	m.mu.Lock()
	c, ok := m.pos[e.PosID]
	if ok && c.State == model.StateOrderPlaced && e.BrokerOrderID == c.BrokerOrderID {
		c.State = model.StatePositionOpen
		c.EntryPrice = e.FillPrice
		m.persist(c)
		m.mu.Unlock()
		log.Printf("[trade] %s: entry filled @%.2f, state=%s", e.PosID, e.FillPrice, model.StatePositionOpen)
		return nil
	}
	if ok && c.State == model.StateExitPending && c.ExitOrderID != "" && e.BrokerOrderID == c.ExitOrderID {
		c.ExitPrice = e.FillPrice
		m.closeLocked(c, model.CloseReasonExit, e.Emitted)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if ok {
		return fmt.Errorf("%s for %s in state %s: order %s is not the awaited order: %w",
			model.EvOrderFilled, e.PosID, c.State, e.BrokerOrderID, ErrInvalidTransition)
	}

	// A fill for a missing or closed context usually means the broker filled
	// an order the monitor already timed out. Surface it for manual
	// reconciliation instead of guessing.
	m.alertLateFill(e)
	return m.reject(model.EvOrderFilled, e.PosID, c)
}

func (m *Machine) applyTimeout(e model.OrderTimeout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pos[e.PosID]
	switch {
	case ok && c.State == model.StateOrderPlaced && e.BrokerOrderID == c.BrokerOrderID:
		m.closeLocked(c, model.CloseReasonTimeout, e.Emitted)
	case ok && c.State == model.StateExitPending && c.ExitOrderID != "" && e.BrokerOrderID == c.ExitOrderID:
		m.closeLocked(c, model.CloseReasonExitTimeout, e.Emitted)
	case ok:
		return fmt.Errorf("%s for %s in state %s: order %s is not the awaited order: %w",
			model.EvOrderTimeout, e.PosID, c.State, e.BrokerOrderID, ErrInvalidTransition)
	default:
		return m.reject(model.EvOrderTimeout, e.PosID, c)
	}
	return nil
}

// closeLocked finalizes a context, persists the terminal row, publishes
// CLOSED, and drops the context from the active set. Caller holds m.mu.
func (m *Machine) closeLocked(c *Context, reason string, at time.Time) {
	c.State = model.StateClosed
	c.CloseReason = reason
	c.ClosedAt = at
	m.persist(c)
	delete(m.pos, c.PosID)
	pnl := c.PnL()
	log.Printf("[trade] %s: CLOSED reason=%s pnl=%.2f", c.PosID, reason, pnl)
	if m.pub != nil {
		ev := model.TradeClosed{Meta: model.NewMeta(c.PosID), CloseReason: reason, PnL: pnl}
		m.pub.Publish(ev)
	}
}

func (m *Machine) persist(c *Context) {
	if m.st == nil {
		return
	}
	if err := m.st.Update(c.Record()); err != nil {
		log.Printf("[trade] persist %s failed: %v", c.PosID, err)
	}
}

func (m *Machine) reject(t model.EventType, posID string, c *Context) error {
	state := "missing"
	if c != nil {
		state = string(c.State)
	}
	return fmt.Errorf("%s for %s in state %s: %w", t, posID, state, ErrInvalidTransition)
}

func (m *Machine) alertLateFill(e model.OrderFilled) {
	if m.noti == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.noti.Send(ctx, notification.Alert{
		Level: notification.AlertWarning,
		Title: "Late fill needs reconciliation",
		Message: fmt.Sprintf("fill for %s (order %s @%.2f) arrived with no open context; verify broker position manually",
			e.PosID, e.BrokerOrderID, e.FillPrice),
	})
}
