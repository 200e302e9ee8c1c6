package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"exec-enginev1/config"
	"exec-enginev1/internal/api"
	"exec-enginev1/internal/bus"
	"exec-enginev1/internal/execution"
	"exec-enginev1/internal/gateway"
	"exec-enginev1/internal/lock"
	"exec-enginev1/internal/logger"
	"exec-enginev1/internal/marketdata"
	"exec-enginev1/internal/markethours"
	"exec-enginev1/internal/metrics"
	"exec-enginev1/internal/model"
	"exec-enginev1/internal/notification"
	"exec-enginev1/internal/risk"
	sqlitestore "exec-enginev1/internal/store/sqlite"
	"exec-enginev1/internal/trade"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[execd] starting...")

	cfg := config.Load()
	logger.Init("execd", slog.LevelInfo)

	// ---- Shared Redis: advisory lock namespace + latest quotes ----
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("[execd] redis ping %s: %v", cfg.RedisAddr, err)
	}
	cancelPing()
	log.Printf("[execd] connected to redis at %s", cfg.RedisAddr)

	// ---- Trade store ----
	store, err := sqlitestore.New(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[execd] open trade store: %v", err)
	}
	defer store.Close()

	// ---- Alerting ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	noti := notification.NewMulti(notifiers...)

	// ---- Metrics ----
	prom := metrics.NewMetrics()
	metrics.Serve(cfg.MetricsAddr)

	// ---- Core components ----
	eventBus := bus.New()
	machine := trade.NewMachine(eventBus, store, noti)
	locks := lock.NewCoordinator(
		lock.NewRedisLocker(rdb),
		time.Duration(cfg.LockWaitMS)*time.Millisecond,
		time.Duration(cfg.LockTTLMS)*time.Millisecond,
	)
	quotes := marketdata.NewReader(rdb, time.Duration(cfg.QuoteMaxAgeSec)*time.Second)

	var broker execution.Broker
	if cfg.Simulate {
		log.Println("[execd] SIMULATE=true, using paper broker")
		broker = execution.NewPaperBroker(eventBus, quotes.LastPrice,
			time.Duration(cfg.PaperFillDelayMS)*time.Millisecond, cfg.PaperSlippageBps)
	} else {
		if cfg.BrokerBridgeURL == "" {
			log.Fatal("[execd] BROKER_BRIDGE_URL required when SIMULATE=false")
		}
		log.Printf("[execd] using broker bridge at %s", cfg.BrokerBridgeURL)
		broker = execution.NewBridgeBroker(cfg.BrokerBridgeURL)
	}

	riskGuard := risk.NewGuard(risk.Limits{
		DailyMaxLoss:           cfg.DailyMaxLoss,
		DailyMaxLossPct:        cfg.DailyMaxLossPct,
		ConsecutiveLossesLimit: cfg.ConsecutiveLossesLimit,
		StartingEquity:         cfg.StartingEquity,
		MaxPositionQty:         cfg.MaxPosition,
	}, noti, prom, nil)

	monitor := execution.NewMonitor(broker, eventBus, prom,
		cfg.OrderTimeout(), time.Duration(cfg.MonitorIntervalMS)*time.Millisecond)
	slippage := execution.NewSlippageGuard(machine, eventBus, prom, cfg.MaxSlippagePct)

	orchCfg := execution.OrchestratorConfig{
		BrokerTimeout: 10 * time.Second,
		MinTradeGap:   time.Duration(cfg.MinTradeGapSeconds) * time.Second,
	}
	if cfg.EnforceMarketHours {
		orchCfg.SessionGate = markethours.IsMarketOpen
	}
	orch := execution.NewOrchestrator(locks, machine, broker, store, eventBus, riskGuard, noti, prom, orchCfg)

	hub := gateway.NewHub(500)

	// ---- Subscriptions (order matters: the machine must transition before
	// the slippage guard inspects the context) ----
	eventBus.Subscribe(machine, model.EvOrderPlaced, model.EvOrderFilled, model.EvOrderTimeout)
	eventBus.Subscribe(monitor, model.EvOrderPlaced, model.EvOrderFilled, model.EvOrderTimeout)
	eventBus.Subscribe(slippage, model.EvOrderFilled)
	eventBus.Subscribe(riskGuard, model.EvTradeClosed)
	eventBus.Subscribe(orch, model.EvEntrySignal, model.EvExitSignal)
	allTypes := []model.EventType{
		model.EvEntrySignal, model.EvExitSignal, model.EvOrderPlaced,
		model.EvOrderFilled, model.EvOrderTimeout, model.EvOrderSlippage,
		model.EvTradeClosed,
	}
	eventBus.Subscribe(prom, allTypes...)
	eventBus.Subscribe(hub, allTypes...)

	// ---- Background monitor ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	// ---- API ----
	srv := &http.Server{
		Addr: cfg.APIAddr,
		Handler: api.NewRouter(&api.Server{
			Pub:     eventBus,
			Machine: machine,
			Store:   store,
			Risk:    riskGuard,
			Quotes:  quotes,
			Hub:     hub,
			BaseLot: cfg.BaseLot,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[execd] API listening on %s", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[execd] API server: %v", err)
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[execd] shutting down...")
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Printf("[execd] API shutdown: %v", err)
	}
	log.Println("[execd] bye")
}
