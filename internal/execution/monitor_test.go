package execution

import (
	"context"
	"testing"
	"time"

	"exec-enginev1/internal/model"
)

func placedAt(pos, orderID string, at time.Time) model.OrderPlaced {
	return model.OrderPlaced{
		Meta:          model.Meta{ID: "ev-" + orderID, PosID: pos, Emitted: at},
		BrokerOrderID: orderID,
	}
}

func TestMonitorTimesOutExactlyOnce(t *testing.T) {
	pub := &recPub{}
	broker := &fakeBroker{cancelOK: true}
	m := NewMonitor(broker, pub, nil, time.Second, 100*time.Millisecond)

	t0 := time.Now()
	m.HandleEvent(placedAt("p1", "ORD-1", t0))

	// Before the deadline nothing happens.
	m.Scan(context.Background(), t0.Add(500*time.Millisecond))
	if got := pub.byType(model.EvOrderTimeout); len(got) != 0 {
		t.Fatalf("premature timeout: %+v", got)
	}

	m.Scan(context.Background(), t0.Add(1100*time.Millisecond))
	timeouts := pub.byType(model.EvOrderTimeout)
	if len(timeouts) != 1 {
		t.Fatalf("timeouts=%d, want 1", len(timeouts))
	}
	ev := timeouts[0].(model.OrderTimeout)
	if ev.PosID != "p1" || ev.BrokerOrderID != "ORD-1" {
		t.Errorf("unexpected timeout event: %+v", ev)
	}
	if len(broker.cancelled) != 1 || broker.cancelled[0] != "ORD-1" {
		t.Errorf("cancel calls=%v, want [ORD-1]", broker.cancelled)
	}

	// Later scans must not repeat the timeout.
	m.Scan(context.Background(), t0.Add(5*time.Second))
	if got := pub.byType(model.EvOrderTimeout); len(got) != 1 {
		t.Fatalf("duplicate timeout emitted: %d events", len(got))
	}
}

func TestMonitorDropsFilledOrders(t *testing.T) {
	pub := &recPub{}
	m := NewMonitor(&fakeBroker{}, pub, nil, time.Second, 100*time.Millisecond)

	t0 := time.Now()
	m.HandleEvent(placedAt("p1", "ORD-1", t0))
	m.HandleEvent(model.OrderFilled{Meta: model.NewMeta("p1"), BrokerOrderID: "ORD-1", FillPrice: 100})

	m.Scan(context.Background(), t0.Add(5*time.Second))
	if got := pub.byType(model.EvOrderTimeout); len(got) != 0 {
		t.Fatalf("filled order timed out anyway: %+v", got)
	}
	if len(m.Pending()) != 0 {
		t.Fatalf("pending=%v, want empty", m.Pending())
	}
}

func TestMonitorTracksPerPosition(t *testing.T) {
	pub := &recPub{}
	m := NewMonitor(&fakeBroker{cancelOK: true}, pub, nil, time.Second, 100*time.Millisecond)

	t0 := time.Now()
	m.HandleEvent(placedAt("p1", "ORD-1", t0))
	m.HandleEvent(placedAt("p2", "ORD-2", t0.Add(2*time.Second)))

	// Only p1 is past its deadline.
	m.Scan(context.Background(), t0.Add(1500*time.Millisecond))
	timeouts := pub.byType(model.EvOrderTimeout)
	if len(timeouts) != 1 || timeouts[0].TradeID() != "p1" {
		t.Fatalf("timeouts=%+v, want just p1", timeouts)
	}
	pending := m.Pending()
	if len(pending) != 1 || pending[0].PosID != "p2" {
		t.Fatalf("pending=%+v, want just p2", pending)
	}
}

func TestMonitorExitOrderReplacesEntry(t *testing.T) {
	pub := &recPub{}
	m := NewMonitor(&fakeBroker{cancelOK: true}, pub, nil, time.Second, 100*time.Millisecond)

	// Entry fills, then the exit order for the same pos_id goes pending.
	t0 := time.Now()
	m.HandleEvent(placedAt("p1", "ORD-1", t0))
	m.HandleEvent(model.OrderFilled{Meta: model.NewMeta("p1"), BrokerOrderID: "ORD-1", FillPrice: 100})
	exit := placedAt("p1", "ORD-2", t0.Add(10*time.Second))
	exit.Exit = true
	m.HandleEvent(exit)

	m.Scan(context.Background(), t0.Add(12*time.Second))
	timeouts := pub.byType(model.EvOrderTimeout)
	if len(timeouts) != 1 {
		t.Fatalf("timeouts=%d, want 1", len(timeouts))
	}
	if ev := timeouts[0].(model.OrderTimeout); ev.BrokerOrderID != "ORD-2" {
		t.Errorf("timed out %s, want the exit order ORD-2", ev.BrokerOrderID)
	}
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	m := NewMonitor(&fakeBroker{}, &recPub{}, nil, time.Second, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
