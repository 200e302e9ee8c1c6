package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"exec-enginev1/internal/model"
	"exec-enginev1/internal/trade"
)

// QuoteFunc supplies the current market price for a symbol.
type QuoteFunc func(ctx context.Context, symbol string) (float64, error)

type paperOrder struct {
	posID     string
	symbol    string
	side      string
	qty       int64
	status    string
	fillPrice float64
	cancel    func()
}

// PaperBroker simulates order execution without real broker calls. Orders
// fill after fillDelay at the current quote shifted by slippageBps (buys
// fill higher, sells lower); the fill is published as an ORDER_FILLED event
// exactly like a real broker postback would be.
type PaperBroker struct {
	mu          sync.Mutex
	orders      map[string]*paperOrder
	seq         int64
	pub         trade.Publisher
	quote       QuoteFunc
	fillDelay   time.Duration
	slippageBps int64
}

// NewPaperBroker creates a paper broker. quote may return an error to leave
// orders unfilled, which exercises the timeout path.
func NewPaperBroker(pub trade.Publisher, quote QuoteFunc, fillDelay time.Duration, slippageBps int64) *PaperBroker {
	return &PaperBroker{
		orders:      make(map[string]*paperOrder),
		pub:         pub,
		quote:       quote,
		fillDelay:   fillDelay,
		slippageBps: slippageBps,
	}
}

func (p *PaperBroker) Name() string { return "paper" }

// PlaceOrder accepts the order and schedules a simulated fill. The pos_id
// is carried via the context set by the orchestrator (WithPosID).
func (p *PaperBroker) PlaceOrder(ctx context.Context, symbol, side string, qty int64) (string, error) {
	p.mu.Lock()
	p.seq++
	orderID := fmt.Sprintf("PAPER-%d", p.seq)
	fctx, cancel := context.WithCancel(context.Background())
	o := &paperOrder{posID: PosIDFrom(ctx), symbol: symbol, side: side, qty: qty, status: "OPEN", cancel: cancel}
	p.orders[orderID] = o
	p.mu.Unlock()

	log.Printf("[paper] %s %s qty=%d order=%s", side, symbol, qty, orderID)
	go p.fillLater(fctx, orderID, o)
	return orderID, nil
}

func (p *PaperBroker) fillLater(ctx context.Context, orderID string, o *paperOrder) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(p.fillDelay):
	}

	qctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	price, err := p.quote(qctx, o.symbol)
	cancel()
	if err != nil || price <= 0 {
		log.Printf("[paper] no quote for %s, leaving order %s unfilled: %v", o.symbol, orderID, err)
		return
	}

	slip := price * float64(p.slippageBps) / 10000
	if o.side == "BUY" {
		price += slip // buy higher
	} else {
		price -= slip // sell lower
	}

	p.mu.Lock()
	if o.status != "OPEN" {
		p.mu.Unlock()
		return
	}
	o.status = "FILLED"
	o.fillPrice = price
	p.mu.Unlock()

	p.pub.Publish(model.OrderFilled{
		Meta:          model.NewMeta(o.posID),
		BrokerOrderID: orderID,
		FillPrice:     price,
		FilledQty:     o.qty,
	})
}

// CancelOrder cancels a still-open order. Returns false if it already
// filled or was cancelled.
func (p *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return false, fmt.Errorf("paper: unknown order %s", brokerOrderID)
	}
	if o.status != "OPEN" {
		return false, nil
	}
	o.status = "CANCELLED"
	o.cancel()
	return true, nil
}

func (p *PaperBroker) QueryOrder(ctx context.Context, brokerOrderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("paper: unknown order %s", brokerOrderID)
	}
	st := OrderStatus{Status: o.status, FillPrice: o.fillPrice}
	if o.status == "FILLED" {
		st.FilledQty = o.qty
	}
	return st, nil
}
