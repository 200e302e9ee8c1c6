package execution

import (
	"context"
	"log"
	"sync"
	"time"

	"exec-enginev1/internal/metrics"
	"exec-enginev1/internal/model"
	"exec-enginev1/internal/trade"
)

// PendingOrder is an order awaiting its fill.
type PendingOrder struct {
	PosID         string
	BrokerOrderID string
	PlacedAt      time.Time
	Deadline      time.Time
}

// Monitor watches orders that have been placed but not filled and times
// them out past their deadline. It only ever emits events and issues
// best-effort cancels; every state change flows back through the state
// machine, which stays the single writer per context.
type Monitor struct {
	mu      sync.Mutex
	pending map[string]PendingOrder // keyed by pos_id

	broker   Broker
	pub      trade.Publisher
	prom     *metrics.Metrics
	timeout  time.Duration // order_timeout_seconds
	interval time.Duration // scan period
}

// NewMonitor creates a Monitor. prom may be nil.
func NewMonitor(broker Broker, pub trade.Publisher, prom *metrics.Metrics, timeout, interval time.Duration) *Monitor {
	return &Monitor{
		pending:  make(map[string]PendingOrder),
		broker:   broker,
		pub:      pub,
		prom:     prom,
		timeout:  timeout,
		interval: interval,
	}
}

// HandleEvent maintains the pending set: ORDER_PLACED adds an entry,
// ORDER_FILLED and ORDER_TIMEOUT remove it.
func (m *Monitor) HandleEvent(ev model.Event) {
	switch e := ev.(type) {
	case model.OrderPlaced:
		m.mu.Lock()
		m.pending[e.PosID] = PendingOrder{
			PosID:         e.PosID,
			BrokerOrderID: e.BrokerOrderID,
			PlacedAt:      e.Emitted,
			Deadline:      e.Emitted.Add(m.timeout),
		}
		m.mu.Unlock()
	case model.OrderFilled:
		m.drop(e.PosID)
	case model.OrderTimeout:
		m.drop(e.PosID)
	}
}

func (m *Monitor) drop(posID string) {
	m.mu.Lock()
	delete(m.pending, posID)
	m.mu.Unlock()
}

// Run scans on a fixed interval independent of the main dispatch path.
// Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Scan(ctx, now)
		}
	}
}

// Scan times out every pending order past its deadline: a best-effort
// cancel first (the order may already be filled, so a cancel failure is
// logged, never escalated), then exactly one ORDER_TIMEOUT.
func (m *Monitor) Scan(ctx context.Context, now time.Time) {
	m.mu.Lock()
	var expired []PendingOrder
	for posID, po := range m.pending {
		if now.After(po.Deadline) {
			expired = append(expired, po)
			delete(m.pending, posID)
		}
	}
	m.mu.Unlock()

	for _, po := range expired {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ok, err := m.broker.CancelOrder(cctx, po.BrokerOrderID)
		cancel()
		if err != nil {
			log.Printf("[monitor] cancel %s (pos=%s) failed: %v", po.BrokerOrderID, po.PosID, err)
		} else if !ok {
			log.Printf("[monitor] cancel %s (pos=%s) declined, order likely filled", po.BrokerOrderID, po.PosID)
		}

		log.Printf("[monitor] order %s (pos=%s) timed out after %s", po.BrokerOrderID, po.PosID, m.timeout)
		if m.prom != nil {
			m.prom.OrderTimeouts.Inc()
		}
		m.pub.Publish(model.OrderTimeout{
			Meta:          model.NewMeta(po.PosID),
			BrokerOrderID: po.BrokerOrderID,
			Deadline:      po.Deadline,
		})
	}
}

// Pending returns a snapshot of the orders currently awaiting fill.
func (m *Monitor) Pending() []PendingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingOrder, 0, len(m.pending))
	for _, po := range m.pending {
		out = append(out, po)
	}
	return out
}
