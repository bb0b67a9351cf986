// Package config assembles the bot's runtime configuration from four
// layers: compiled defaults, the environment (a .env file is read into
// it first when present), an optional YAML file, and command-line
// flags. Later layers win, so a flag beats the file and the file beats
// the environment. Secrets stay in the environment; the YAML file
// carries tuning, not credentials.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/psreek-ai/coinbase-trader/internal/backtest"
	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/engine"
	"github.com/psreek-ai/coinbase-trader/internal/executor"
	"github.com/psreek-ai/coinbase-trader/internal/reconcile"
	"github.com/psreek-ai/coinbase-trader/internal/risk"
	"github.com/psreek-ai/coinbase-trader/internal/scanner"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
)

// Run modes.
const (
	ModeLive     = "live"
	ModePaper    = "paper"
	ModeBacktest = "backtest"
	ModeValidate = "validate"
)

// Config is the full runtime configuration.
type Config struct {
	// Mode selects what the process does: trade for real, trade on
	// paper against live market data, replay history, or grade the
	// recorded live trades.
	Mode string `yaml:"mode" env:"MODE" envDefault:"paper"`

	// Products are the ids the websocket feed subscribes to and the
	// universe backtests run over. Live trading discovers its universe
	// from the account, so this list only widens streaming coverage.
	Products []string `yaml:"products" env:"PRODUCTS" envSeparator:","`

	APIKeyName    string `yaml:"api_key_name" env:"COINBASE_API_KEY_NAME"`
	APIPrivateKey string `yaml:"api_private_key" env:"COINBASE_API_PRIVATE_KEY"`

	// DatabaseURL is a lib/pq connection string. Empty runs the bot on
	// the in-memory store, which only paper and backtest modes accept.
	DatabaseURL     string `yaml:"database_url" env:"DATABASE_URL"`
	DatabaseMaxOpen int    `yaml:"database_max_open" env:"DATABASE_MAX_OPEN" envDefault:"10"`
	DatabaseMaxIdle int    `yaml:"database_max_idle" env:"DATABASE_MAX_IDLE" envDefault:"5"`

	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR" envDefault:":9090"`

	TelegramToken  string `yaml:"telegram_token" env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID string `yaml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
	WebhookURL     string `yaml:"webhook_url" env:"NOTIFY_WEBHOOK_URL"`

	PriceCacheTTL   time.Duration `yaml:"price_cache_ttl" env:"PRICE_CACHE_TTL" envDefault:"30s"`
	PaperFeePercent float64       `yaml:"paper_fee_percent" env:"PAPER_FEE_PERCENT" envDefault:"0.6"`

	// ValidateWindow bounds how far back validate mode reads closed
	// trades.
	ValidateWindow time.Duration `yaml:"validate_window" env:"VALIDATE_WINDOW" envDefault:"720h"`

	Risk      risk.Config      `yaml:"risk"`
	Strategy  strategy.Config  `yaml:"strategy"`
	Scanner   scanner.Config   `yaml:"scanner"`
	Executor  executor.Config  `yaml:"executor"`
	Reconcile reconcile.Config `yaml:"reconcile"`
	Engine    engine.Config    `yaml:"engine"`
	Backtest  backtest.Config  `yaml:"backtest"`
}

// Default returns the configuration the bot runs with when nothing is
// overridden: paper mode with every package at its stock tuning.
func Default() Config {
	return Config{
		Mode:            ModePaper,
		MetricsAddr:     ":9090",
		DatabaseMaxOpen: 10,
		DatabaseMaxIdle: 5,
		PriceCacheTTL:   30 * time.Second,
		PaperFeePercent: 0.6,
		ValidateWindow:  30 * 24 * time.Hour,
		Risk:            risk.DefaultConfig(),
		Strategy:        strategy.DefaultConfig(),
		Scanner:         scanner.DefaultConfig(),
		Executor:        executor.DefaultConfig(),
		Reconcile:       reconcile.DefaultConfig(),
		Engine:          engine.DefaultConfig(),
		Backtest:        backtest.DefaultConfig(),
	}
}

// Load builds the configuration from the given command-line arguments,
// the environment, and the optional YAML file named by -config.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("coinbase-trader", flag.ContinueOnError)
	var (
		configPath   = fs.String("config", "", "path to a YAML config file")
		envFile      = fs.String("env-file", "", "path to a .env file (default: ./.env when present)")
		mode         = fs.String("mode", "", "run mode: live, paper, backtest, or validate")
		products     = fs.String("products", "", "comma-separated product ids, e.g. BTC-USD,ETH-USD")
		strategyName = fs.String("strategy", "", "strategy: "+strings.Join(strategy.Available(), ", "))
		days         = fs.Int("days", 0, "days of history a backtest replays")
		output       = fs.String("output", "", "file the backtest summary is written to as JSON")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return Config{}, fmt.Errorf("loading env file: %w", err)
		}
	} else {
		// A missing ./.env is not an error.
		_ = godotenv.Load()
	}

	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", *configPath, err)
		}
	}

	if *mode != "" {
		cfg.Mode = *mode
	}
	if *products != "" {
		cfg.Products = strings.Split(*products, ",")
	}
	if *strategyName != "" {
		cfg.Strategy.Name = *strategyName
	}
	if *days > 0 {
		cfg.Backtest.Days = *days
	}
	if *output != "" {
		cfg.Backtest.OutputPath = *output
	}

	cfg.Products = normalizeProducts(cfg.Products)
	// PEM keys exported through env files arrive with literal \n
	// sequences in place of newlines.
	cfg.APIPrivateKey = strings.ReplaceAll(cfg.APIPrivateKey, `\n`, "\n")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the bot cannot run with.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModePaper, ModeBacktest, ModeValidate:
	default:
		return fmt.Errorf("unknown mode %q (expected live, paper, backtest, or validate)", c.Mode)
	}

	if c.Mode != ModeValidate && (c.APIKeyName == "" || c.APIPrivateKey == "") {
		return fmt.Errorf("%s mode needs COINBASE_API_KEY_NAME and COINBASE_API_PRIVATE_KEY", c.Mode)
	}
	if c.Mode == ModeLive && c.DatabaseURL == "" {
		return fmt.Errorf("live mode needs DATABASE_URL: orders and positions must survive restarts")
	}
	if c.Mode == ModeValidate && c.DatabaseURL == "" {
		return fmt.Errorf("validate mode reads closed trades from the database, set DATABASE_URL")
	}
	if c.Mode == ModeBacktest && len(c.Products) == 0 {
		return fmt.Errorf("backtest mode needs at least one product, e.g. -products BTC-USD")
	}

	if _, err := strategy.New(c.Strategy); err != nil {
		return err
	}
	if candle.GranularityDuration(c.Scanner.Granularity) <= 0 {
		return fmt.Errorf("scanner: unsupported granularity %q", c.Scanner.Granularity)
	}
	if candle.GranularityDuration(c.Backtest.Granularity) <= 0 {
		return fmt.Errorf("backtest: unsupported granularity %q", c.Backtest.Granularity)
	}
	return nil
}

// normalizeProducts trims, uppercases, and drops empty entries so
// "btc-usd, eth-usd" and "BTC-USD,ETH-USD" configure the same thing.
func normalizeProducts(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
