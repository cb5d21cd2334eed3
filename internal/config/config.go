// Package config loads VECTRA-PLAYER's configuration from CLI flags and
// environment variables, following the flag-default-equals-env-default
// idiom the teacher's feed simulator uses: every flag's default is
// computed by reading its env var first.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vectra-player/core/internal/money"
)

// IntegrityThresholdKind selects which signal the Data-Integrity Monitor
// counts against its configured threshold.
type IntegrityThresholdKind string

const (
	ThresholdTicks IntegrityThresholdKind = "ticks"
	ThresholdGames IntegrityThresholdKind = "games"
)

// Config holds all runtime configuration for the core service.
type Config struct {
	// Upstream feed
	UpstreamURL string
	RateLimit   int // signals per second; critical events bypass this

	// Persistence
	DataDir            string
	MongoURI           string
	RingBufferSize     int // Event Bus bounded queue capacity
	ParquetFlushRows   int
	ParquetFlushPeriod time.Duration

	// Session
	SessionGameLimit int // 0 = unlimited
	SessionTimeLimit time.Duration

	// Data integrity
	IntegrityThresholdType  IntegrityThresholdKind
	IntegrityThresholdValue int
	RugPairWindow           time.Duration

	// Logging
	LogLevel string

	// Financial constants (recovered from original_source/src/config.py)
	MinBet             money.D
	MaxBet             money.D
	InitialBalance     money.D
	SidebetMultiplier  money.D
	SidebetWindowTicks int
	SidebetCooldown    int
	RugLiquidationPx   money.D
	MaxPositionSize    money.D

	// Ambient enrichment (optional, disabled unless set)
	MetricsAddr string
	NATSUrl     string // empty disables telemetry republish
}

// blockedPhases is the fixed set of phases in which trades are rejected.
// Not user-configurable: spec open question #2 pins the sell-percentage
// set, and the blocked-phase set is equally load-bearing for downstream
// analytics, so it is compiled in rather than exposed as a flag.
var blockedPhases = map[string]bool{
	"COOLDOWN":    true,
	"RUG_EVENT_1": true,
	"RUG_EVENT_2": true,
	"UNKNOWN":     true,
}

// IsBlockedPhase reports whether trades are rejected while in phase p.
func IsBlockedPhase(p string) bool {
	return blockedPhases[p]
}

// SellPercentages is the fixed, non-broadenable set of valid partial-sell
// fractions (spec §9 open question #2).
var SellPercentages = []money.D{
	money.MustFromString("0.10"),
	money.MustFromString("0.25"),
	money.MustFromString("0.50"),
	money.MustFromString("1.00"),
}

// Load parses flags and environment variables into a Config, applying
// defaults, and validates the result. A non-nil error here is a
// configuration error (caller exits with code 2).
func Load() (*Config, error) {
	c := &Config{}

	flag.StringVar(&c.UpstreamURL, "upstream-url", envStr("VECTRA_UPSTREAM_URL", "wss://backend.rugs.fun"), "upstream Socket.IO URL")
	flag.IntVar(&c.RateLimit, "rate-limit", envInt("VECTRA_RATE_LIMIT", 20), "signals per second accepted by the rate limiter")

	flag.StringVar(&c.DataDir, "data-dir", envStr("VECTRA_DATA_DIR", defaultDataDir()), "root directory for persisted events and manifests")
	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("VECTRA_MONGO_URI", "mongodb://localhost:27017/vectra"), "MongoDB URI for server-state checkpoints")
	flag.IntVar(&c.RingBufferSize, "ring-buffer-size", envInt("VECTRA_RING_BUFFER_SIZE", 5000), "Event Bus bounded queue capacity")
	flag.IntVar(&c.ParquetFlushRows, "parquet-flush-rows", envInt("VECTRA_PARQUET_FLUSH_ROWS", 500), "rows buffered per doc-type before a parquet flush")
	flag.DurationVar(&c.ParquetFlushPeriod, "parquet-flush-period", envDuration("VECTRA_PARQUET_FLUSH_PERIOD", 5*time.Second), "max time a doc-type buffer may hold unflushed rows")

	gameLimit := flag.String("session-game-limit", envStr("VECTRA_SESSION_GAME_LIMIT", "0"), "games per session before auto-stop (0 or infinite = unlimited)")
	timeLimitMin := flag.Int("session-time-limit", envInt("VECTRA_SESSION_TIME_LIMIT", 0), "minutes per session before auto-stop (0 = unlimited)")

	thresholdType := flag.String("integrity-threshold-type", envStr("VECTRA_INTEGRITY_THRESHOLD_TYPE", "ticks"), "ticks|games")
	flag.IntVar(&c.IntegrityThresholdValue, "integrity-threshold-value", envInt("VECTRA_INTEGRITY_THRESHOLD_VALUE", 5), "threshold value for the configured kind")
	flag.DurationVar(&c.RugPairWindow, "rug-pair-window", envDuration("VECTRA_RUG_PAIR_WINDOW", 500*time.Millisecond), "window for pairing RUG_EVENT_1/RUG_EVENT_2 (open question, instrumented via orphaned_rug_pairs)")

	flag.StringVar(&c.LogLevel, "log-level", envStr("VECTRA_LOG_LEVEL", "info"), "debug|info|warn|error")

	minBet := flag.String("min-bet", envStr("VECTRA_MIN_BET", "0.001"), "minimum trade amount")
	maxBet := flag.String("max-bet", envStr("VECTRA_MAX_BET", "1.0"), "maximum trade amount")
	initBal := flag.String("initial-balance", envStr("VECTRA_INITIAL_BALANCE", "0.100"), "starting wallet balance")
	sidebetMult := flag.String("sidebet-multiplier", envStr("VECTRA_SIDEBET_MULTIPLIER", "5.0"), "gross payout multiple on a winning sidebet")
	flag.IntVar(&c.SidebetWindowTicks, "sidebet-window-ticks", envInt("VECTRA_SIDEBET_WINDOW_TICKS", 40), "default sidebet window in ticks (parsed; no component reads it)")
	flag.IntVar(&c.SidebetCooldown, "sidebet-cooldown-ticks", envInt("VECTRA_SIDEBET_COOLDOWN_TICKS", 5), "ticks before a new sidebet may be placed after one resolves (parsed; not enforced by any component)")
	rugLiq := flag.String("rug-liquidation-price", envStr("VECTRA_RUG_LIQUIDATION_PRICE", "0.02"), "price floor below which a position is treated as rugged (parsed; not applied by any component)")
	maxPos := flag.String("max-position-size", envStr("VECTRA_MAX_POSITION_SIZE", "10.0"), "maximum open position amount (parsed; not enforced by any component)")

	flag.StringVar(&c.MetricsAddr, "metrics-addr", envStr("VECTRA_METRICS_ADDR", ":9090"), "listen address for the /metrics endpoint")
	flag.StringVar(&c.NATSUrl, "nats-url", envStr("VECTRA_NATS_URL", ""), "optional NATS URL for live-state snapshot republish (empty disables)")

	flag.Parse()

	c.SessionTimeLimit = time.Duration(*timeLimitMin) * time.Minute

	var err error
	if c.SessionGameLimit, err = parseGameLimit(*gameLimit); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(*thresholdType) {
	case "ticks":
		c.IntegrityThresholdType = ThresholdTicks
	case "games":
		c.IntegrityThresholdType = ThresholdGames
	default:
		return nil, fmt.Errorf("config: integrity-threshold-type must be ticks or games, got %q", *thresholdType)
	}

	if c.MinBet, err = decimalFlag("min-bet", *minBet); err != nil {
		return nil, err
	}
	if c.MaxBet, err = decimalFlag("max-bet", *maxBet); err != nil {
		return nil, err
	}
	if c.InitialBalance, err = decimalFlag("initial-balance", *initBal); err != nil {
		return nil, err
	}
	if c.SidebetMultiplier, err = decimalFlag("sidebet-multiplier", *sidebetMult); err != nil {
		return nil, err
	}
	if c.RugLiquidationPx, err = decimalFlag("rug-liquidation-price", *rugLiq); err != nil {
		return nil, err
	}
	if c.MaxPositionSize, err = decimalFlag("max-position-size", *maxPos); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("upstream-url must not be empty")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate-limit must be positive")
	}
	if c.RingBufferSize <= 0 {
		return fmt.Errorf("ring-buffer-size must be positive")
	}
	if c.MinBet.GreaterThan(c.MaxBet) {
		return fmt.Errorf("min-bet (%s) must not exceed max-bet (%s)", c.MinBet, c.MaxBet)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	return nil
}

func parseGameLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" || strings.EqualFold(s, "inf") || strings.EqualFold(s, "infinite") {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("session-game-limit must be a non-negative integer or \"infinite\", got %q", s)
	}
	return n, nil
}

func decimalFlag(name, s string) (money.D, error) {
	d, err := money.DecimalFromString(s)
	if err != nil {
		return money.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rugs_data"
	}
	return home + "/rugs_data"
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
