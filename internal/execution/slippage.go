package execution

import (
	"log"
	"math"

	"exec-enginev1/internal/metrics"
	"exec-enginev1/internal/model"
	"exec-enginev1/internal/trade"
)

// Snapshotter is the guard's read-only view of trade state.
type Snapshotter interface {
	Snapshot(posID string) (trade.Context, bool)
}

// SlippageGuard checks every entry fill against the trade's reference price
// and unwinds the position when the deviation exceeds maxPct. It must be
// registered after the state machine: by the time it sees ORDER_FILLED the
// context is already POSITION_OPEN, and the transition table guarantees a
// second entry fill for the same pos_id cannot occur, so the check fires at
// most once per trade.
type SlippageGuard struct {
	snaps  Snapshotter
	pub    trade.Publisher
	prom   *metrics.Metrics
	maxPct float64
}

// NewSlippageGuard creates the guard. prom may be nil.
func NewSlippageGuard(snaps Snapshotter, pub trade.Publisher, prom *metrics.Metrics, maxPct float64) *SlippageGuard {
	return &SlippageGuard{snaps: snaps, pub: pub, prom: prom, maxPct: maxPct}
}

// HandleEvent evaluates entry fills. Exit fills close their context before
// the guard runs, so the snapshot lookup filters them out.
func (g *SlippageGuard) HandleEvent(ev model.Event) {
	e, ok := ev.(model.OrderFilled)
	if !ok {
		return
	}
	snap, ok := g.snaps.Snapshot(e.PosID)
	if !ok || snap.State != model.StatePositionOpen || snap.ReferencePrice <= 0 {
		return
	}

	deviationPct := math.Abs(e.FillPrice-snap.ReferencePrice) / snap.ReferencePrice * 100
	if deviationPct <= g.maxPct {
		return
	}

	log.Printf("[slippage] %s filled @%.4f vs ref %.4f (%.3f%% > %.3f%%), unwinding",
		e.PosID, e.FillPrice, snap.ReferencePrice, deviationPct, g.maxPct)
	if g.prom != nil {
		g.prom.SlippageTrips.Inc()
	}
	g.pub.Publish(model.OrderSlippage{
		Meta:           model.NewMeta(e.PosID),
		ReferencePrice: snap.ReferencePrice,
		FillPrice:      e.FillPrice,
		DeviationPct:   deviationPct,
	})
	g.pub.Publish(model.ExitSignal{Meta: model.NewMeta(e.PosID), Reason: "slippage"})
}
