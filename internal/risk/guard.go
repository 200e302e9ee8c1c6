// Package risk maintains the engine's kill-switch: aggregate daily and
// consecutive-loss counters fed by CLOSED trade outcomes. When a limit is
// breached the guard flips trading_enabled off and every subsequent entry is
// vetoed until an operator re-enables trading (or the next trading day
// begins).
package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"exec-enginev1/internal/markethours"
	"exec-enginev1/internal/metrics"
	"exec-enginev1/internal/model"
	"exec-enginev1/internal/notification"
)

// Limits defines the configurable risk thresholds. Zero values disable the
// corresponding check.
type Limits struct {
	DailyMaxLoss           float64 `json:"daily_max_loss"`     // absolute currency
	DailyMaxLossPct        float64 `json:"daily_max_loss_pct"` // percent of starting equity
	ConsecutiveLossesLimit int     `json:"consecutive_losses_limit"`
	StartingEquity         float64 `json:"starting_equity"`
	MaxPositionQty         int64   `json:"max_position_qty"` // aggregate open quantity cap
}

// BotState is the process-wide trading state. It is owned by the Guard and
// injected where needed; nothing else mutates it.
type BotState struct {
	RealizedPnLToday  float64 `json:"realized_pnl_today"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	TradingEnabled    bool    `json:"trading_enabled"`
	TradingDay        string  `json:"trading_day"`
}

// Guard updates BotState from CLOSED events and answers the orchestrator's
// entry checks. CLOSED events from concurrent trades race to update the
// counters, so every access goes through the mutex.
type Guard struct {
	mu     sync.Mutex
	limits Limits
	state  BotState

	now  func() time.Time
	noti notification.Notifier
	prom *metrics.Metrics
}

// NewGuard creates a Guard with trading enabled. noti and prom may be nil;
// now defaults to time.Now.
func NewGuard(limits Limits, noti notification.Notifier, prom *metrics.Metrics, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	g := &Guard{
		limits: limits,
		state:  BotState{TradingEnabled: true, TradingDay: markethours.TradingDate(now())},
		now:    now,
		noti:   noti,
		prom:   prom,
	}
	g.gauge()
	return g
}

// AllowEntry reports whether an entry is currently permitted.
// projectedQty is the aggregate open quantity the engine would carry if the
// entry went through (open contexts plus the new signal); it is checked
// against MaxPositionQty.
func (g *Guard) AllowEntry(projectedQty int64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	if !g.state.TradingEnabled {
		return false, "kill-switch active"
	}
	if g.limits.MaxPositionQty > 0 && projectedQty > g.limits.MaxPositionQty {
		return false, fmt.Sprintf("projected position %d exceeds max %d", projectedQty, g.limits.MaxPositionQty)
	}
	return true, ""
}

// HandleEvent consumes CLOSED events from the bus.
func (g *Guard) HandleEvent(ev model.Event) {
	e, ok := ev.(model.TradeClosed)
	if !ok {
		return
	}
	g.RecordClose(e.PosID, e.PnL)
}

// RecordClose applies one trade outcome to the counters and trips the
// kill-switch on a breach.
func (g *Guard) RecordClose(posID string, pnl float64) {
	g.mu.Lock()
	g.rollDayLocked()

	g.state.RealizedPnLToday += pnl
	if pnl < 0 {
		g.state.ConsecutiveLosses++
	} else if pnl > 0 {
		g.state.ConsecutiveLosses = 0
	}
	g.gauge()
	log.Printf("[risk] %s closed pnl=%.2f, today=%.2f, consec_losses=%d",
		posID, pnl, g.state.RealizedPnLToday, g.state.ConsecutiveLosses)

	reason := g.breachLocked()
	if reason != "" && g.state.TradingEnabled {
		g.state.TradingEnabled = false
		g.gauge()
		g.mu.Unlock()
		log.Printf("[risk] KILL-SWITCH: trading disabled (%s)", reason)
		g.alert(notification.AlertCritical, "Trading disabled",
			fmt.Sprintf("kill-switch tripped after %s close: %s", posID, reason))
		return
	}
	g.mu.Unlock()
}

func (g *Guard) breachLocked() string {
	if g.limits.DailyMaxLoss > 0 && g.state.RealizedPnLToday <= -g.limits.DailyMaxLoss {
		return fmt.Sprintf("daily loss %.2f breached limit %.2f", -g.state.RealizedPnLToday, g.limits.DailyMaxLoss)
	}
	if g.limits.DailyMaxLossPct > 0 && g.limits.StartingEquity > 0 {
		lossPct := -g.state.RealizedPnLToday / g.limits.StartingEquity * 100
		if lossPct >= g.limits.DailyMaxLossPct {
			return fmt.Sprintf("daily loss %.2f%% breached limit %.2f%%", lossPct, g.limits.DailyMaxLossPct)
		}
	}
	if g.limits.ConsecutiveLossesLimit > 0 && g.state.ConsecutiveLosses >= g.limits.ConsecutiveLossesLimit {
		return fmt.Sprintf("%d consecutive losses reached limit %d", g.state.ConsecutiveLosses, g.limits.ConsecutiveLossesLimit)
	}
	return ""
}

// rollDayLocked resets the counters at the trading-day boundary. The
// kill-switch clears with the new day; within a day only Enable clears it.
func (g *Guard) rollDayLocked() {
	today := markethours.TradingDate(g.now())
	if today == g.state.TradingDay {
		return
	}
	log.Printf("[risk] new trading day %s, resetting daily counters", today)
	g.state = BotState{TradingEnabled: true, TradingDay: today}
	g.gauge()
}

// Enable is the explicit operator action re-enabling trading. It clears the
// consecutive-loss streak; the daily pnl stands, so a still-breached daily
// limit re-trips on the next losing close.
func (g *Guard) Enable() {
	g.mu.Lock()
	g.state.TradingEnabled = true
	g.state.ConsecutiveLosses = 0
	g.gauge()
	g.mu.Unlock()
	log.Printf("[risk] trading re-enabled by operator")
	g.alert(notification.AlertInfo, "Trading re-enabled", "operator re-enabled trading")
}

// State returns a copy of the current BotState.
func (g *Guard) State() BotState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.state
}

func (g *Guard) gauge() {
	if g.prom == nil {
		return
	}
	if g.state.TradingEnabled {
		g.prom.TradingEnabled.Set(1)
	} else {
		g.prom.TradingEnabled.Set(0)
	}
	g.prom.RealizedPnL.Set(g.state.RealizedPnLToday)
}

func (g *Guard) alert(level notification.AlertLevel, title, msg string) {
	if g.noti == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.noti.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		log.Printf("[risk] alert delivery failed: %v", err)
	}
}
