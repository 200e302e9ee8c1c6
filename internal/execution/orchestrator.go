package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"exec-enginev1/internal/lock"
	"exec-enginev1/internal/metrics"
	"exec-enginev1/internal/model"
	"exec-enginev1/internal/notification"
	"exec-enginev1/internal/trade"
)

// RiskGate is the orchestrator's view of the risk guard: consulted before
// every entry with the projected aggregate open quantity, never mutated here.
type RiskGate interface {
	AllowEntry(projectedQty int64) (bool, string)
}

// recordFinder is satisfied by stores that can look up a trade row by
// pos_id; the orchestrator uses it for the cross-process duplicate check.
type recordFinder interface {
	GetByPosID(posID string) (model.TradeRecord, error)
}

// OrchestratorConfig carries the orchestrator's tunables.
type OrchestratorConfig struct {
	BrokerTimeout time.Duration        // per broker call
	MinTradeGap   time.Duration        // cooldown between accepted entries, 0 disables
	SessionGate   func(time.Time) bool // nil disables the market-hours gate
}

// Orchestrator is the single entry point for ENTRY_SIGNAL and EXIT_SIGNAL.
// All broker interaction for a trade happens inside the two-tier lock for
// its pos_id, which is what makes duplicate opens impossible across
// processes sharing the lock namespace.
type Orchestrator struct {
	locks   *lock.Coordinator
	machine *trade.Machine
	broker  Broker
	store   trade.Store
	pub     trade.Publisher
	risk    RiskGate
	noti    notification.Notifier
	prom    *metrics.Metrics
	cfg     OrchestratorConfig

	mu        sync.Mutex
	lastEntry time.Time
}

// NewOrchestrator wires the orchestrator. store, risk, noti, and prom may be
// nil where the deployment does not need them.
func NewOrchestrator(locks *lock.Coordinator, machine *trade.Machine, broker Broker,
	store trade.Store, pub trade.Publisher, risk RiskGate,
	noti notification.Notifier, prom *metrics.Metrics, cfg OrchestratorConfig) *Orchestrator {
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = 10 * time.Second
	}
	return &Orchestrator{
		locks: locks, machine: machine, broker: broker, store: store,
		pub: pub, risk: risk, noti: noti, prom: prom, cfg: cfg,
	}
}

// HandleEvent dispatches signals from the bus. Failures are logged and
// surfaced with the pos_id attached; signals are never silently dropped.
func (o *Orchestrator) HandleEvent(ev model.Event) {
	var err error
	switch e := ev.(type) {
	case model.EntrySignal:
		err = o.Enter(context.Background(), e)
	case model.ExitSignal:
		err = o.Exit(context.Background(), e)
	default:
		return
	}
	if err != nil {
		log.Printf("[orchestrator] %s for %s failed: %v", ev.Type(), ev.TradeID(), err)
		if errors.Is(err, lock.ErrContention) {
			if o.prom != nil {
				o.prom.LockContention.Inc()
			}
			o.alert(notification.AlertWarning, "Lock contention, signal dropped",
				fmt.Sprintf("%s for %s abandoned: %v", ev.Type(), ev.TradeID(), err))
		}
	}
}

// Enter processes an entry signal: risk gate, lock, context creation,
// persistence, broker placement, ORDER_PLACED. A broker failure discards the
// fresh context so no dangling ENTRY_PENDING survives.
func (o *Orchestrator) Enter(ctx context.Context, sig model.EntrySignal) error {
	if o.cfg.SessionGate != nil && !o.cfg.SessionGate(time.Now()) {
		o.countReject("market_closed")
		return fmt.Errorf("entry %s: market closed", sig.PosID)
	}
	if !o.gapElapsed() {
		o.countReject("cooldown")
		return fmt.Errorf("entry %s: trade cooldown active", sig.PosID)
	}
	if o.risk != nil {
		if ok, reason := o.risk.AllowEntry(o.projectedQty(sig.Qty)); !ok {
			o.countReject("risk_veto")
			o.alert(notification.AlertWarning, "Entry rejected by risk guard",
				fmt.Sprintf("entry %s vetoed: %s", sig.PosID, reason))
			return fmt.Errorf("entry %s: %s: %w", sig.PosID, reason, ErrTradingDisabled)
		}
	}

	return o.locks.WithLock(ctx, sig.PosID, func(ctx context.Context) error {
		// The shared trades table is what makes the idempotency guard hold
		// across processes: the advisory lock serializes us, the persisted
		// row tells us another instance already owns this pos_id.
		if rf, ok := o.store.(recordFinder); ok {
			if rec, err := rf.GetByPosID(sig.PosID); err == nil && !rec.State.Terminal() {
				o.countReject("invalid_transition")
				return fmt.Errorf("entry for %s already %s in shared store: %w",
					sig.PosID, rec.State, trade.ErrInvalidTransition)
			}
		}
		if err := o.machine.CreateEntry(sig); err != nil {
			o.countReject("invalid_transition")
			return err
		}
		if o.store != nil {
			snap, _ := o.machine.Snapshot(sig.PosID)
			id, err := o.store.Insert(snap.Record())
			if err != nil {
				// Placement still proceeds: persistence lag is recoverable,
				// a lost order is not.
				log.Printf("[orchestrator] persist entry %s failed: %v", sig.PosID, err)
			} else {
				o.machine.SetDBID(sig.PosID, id)
			}
		}

		bctx, cancel := context.WithTimeout(WithPosID(ctx, sig.PosID), o.cfg.BrokerTimeout)
		defer cancel()
		orderID, err := o.broker.PlaceOrder(bctx, sig.Symbol, sig.Direction.Side(), sig.Qty)
		if err != nil {
			snap, ok := o.machine.Snapshot(sig.PosID)
			o.machine.DiscardEntry(sig.PosID)
			if o.store != nil && ok {
				// Close out the persisted row so the pos_id is free again.
				rec := snap.Record()
				rec.State = model.StateClosed
				rec.CloseReason = model.CloseReasonFailed
				if uerr := o.store.Update(rec); uerr != nil {
					log.Printf("[orchestrator] mark %s failed in store: %v", sig.PosID, uerr)
				}
			}
			return fmt.Errorf("place entry order for %s: %v: %w", sig.PosID, err, ErrExecutionFailed)
		}

		o.markEntry()
		if o.prom != nil {
			o.prom.OrdersPlaced.Inc()
		}
		o.pub.Publish(model.OrderPlaced{Meta: model.NewMeta(sig.PosID), BrokerOrderID: orderID})
		return nil
	})
}

// Exit processes an exit signal under the same locking discipline. A broker
// failure rolls the context back to POSITION_OPEN.
func (o *Orchestrator) Exit(ctx context.Context, sig model.ExitSignal) error {
	return o.locks.WithLock(ctx, sig.PosID, func(ctx context.Context) error {
		if err := o.machine.RequestExit(sig.PosID); err != nil {
			o.countReject("invalid_transition")
			return err
		}
		snap, _ := o.machine.Snapshot(sig.PosID)

		bctx, cancel := context.WithTimeout(WithPosID(ctx, sig.PosID), o.cfg.BrokerTimeout)
		defer cancel()
		orderID, err := o.broker.PlaceOrder(bctx, snap.Symbol, snap.Direction.Opposite(), snap.RequestedQty)
		if err != nil {
			o.machine.RollbackExit(sig.PosID)
			return fmt.Errorf("place exit order for %s: %v: %w", sig.PosID, err, ErrExecutionFailed)
		}

		if o.prom != nil {
			o.prom.OrdersPlaced.Inc()
		}
		o.pub.Publish(model.OrderPlaced{Meta: model.NewMeta(sig.PosID), BrokerOrderID: orderID, Exit: true})
		return nil
	})
}

// projectedQty is the aggregate open quantity the engine would carry if the
// entry went through: every active context plus the new signal.
func (o *Orchestrator) projectedQty(sigQty int64) int64 {
	total := sigQty
	for _, c := range o.machine.Positions() {
		total += c.RequestedQty
	}
	return total
}

func (o *Orchestrator) gapElapsed() bool {
	if o.cfg.MinTradeGap <= 0 {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastEntry.IsZero() || time.Since(o.lastEntry) >= o.cfg.MinTradeGap
}

func (o *Orchestrator) markEntry() {
	o.mu.Lock()
	o.lastEntry = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) countReject(reason string) {
	if o.prom != nil {
		o.prom.EntriesRejected.WithLabelValues(reason).Inc()
	}
}

func (o *Orchestrator) alert(level notification.AlertLevel, title, msg string) {
	if o.noti == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.noti.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		log.Printf("[orchestrator] alert delivery failed: %v", err)
	}
}
