package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration loaded from environment variables.
type Config struct {
	// Execution
	OrderTimeoutSeconds int     // deadline for a placed order to fill
	MaxSlippagePct      float64 // entry fill deviation triggering an unwind
	BaseLot             int64   // default quantity when a signal omits qty
	MinTradeGapSeconds  int     // cooldown between accepted entries, 0 disables
	Simulate            bool    // paper broker instead of the bridge
	EnforceMarketHours  bool    // reject entries outside the NSE session

	// Risk
	DailyMaxLoss           float64
	DailyMaxLossPct        float64
	ConsecutiveLossesLimit int
	StartingEquity         float64
	MaxPosition            int64 // aggregate open quantity cap, 0 disables

	// Locking
	LockWaitMS int // bounded wait per lock tier
	LockTTLMS  int // advisory lock lifetime

	// Monitor
	MonitorIntervalMS int

	// Infrastructure
	RedisAddr       string
	RedisPassword   string
	SQLitePath      string
	MetricsAddr     string
	APIAddr         string
	BrokerBridgeURL string
	QuoteMaxAgeSec  int

	// Alerting
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string

	// Paper broker simulation
	PaperFillDelayMS int
	PaperSlippageBps int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		OrderTimeoutSeconds: getEnvInt("ORDER_TIMEOUT_SECONDS", 30),
		MaxSlippagePct:      getEnvFloat("MAX_SLIPPAGE_PCT", 0.5),
		BaseLot:             int64(getEnvInt("BASE_LOT", 65)),
		MinTradeGapSeconds:  getEnvInt("MIN_TRADE_GAP_SECONDS", 0),
		Simulate:            getEnvBool("SIMULATE", true),
		EnforceMarketHours:  getEnvBool("ENFORCE_MARKET_HOURS", false),

		DailyMaxLoss:           getEnvFloat("DAILY_MAX_LOSS", 5000),
		DailyMaxLossPct:        getEnvFloat("DAILY_MAX_LOSS_PCT", 0),
		ConsecutiveLossesLimit: getEnvInt("CONSECUTIVE_LOSSES_LIMIT", 3),
		StartingEquity:         getEnvFloat("STARTING_EQUITY", 100000),
		MaxPosition:            int64(getEnvInt("MAX_POSITION", 0)),

		LockWaitMS: getEnvInt("LOCK_WAIT_MS", 2000),
		LockTTLMS:  getEnvInt("LOCK_TTL_MS", 30000),

		MonitorIntervalMS: getEnvInt("MONITOR_INTERVAL_MS", 1000),

		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		SQLitePath:      getEnv("SQLITE_PATH", "data/trades.db"),
		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		BrokerBridgeURL: getEnv("BROKER_BRIDGE_URL", ""),
		QuoteMaxAgeSec:  getEnvInt("QUOTE_MAX_AGE_SECONDS", 60),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),

		PaperFillDelayMS: getEnvInt("PAPER_FILL_DELAY_MS", 200),
		PaperSlippageBps: int64(getEnvInt("PAPER_SLIPPAGE_BPS", 5)),
	}
}

// OrderTimeout returns the pending-order deadline as a duration.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
