package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/backtest"
	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/config"
	"github.com/psreek-ai/coinbase-trader/internal/db"
	"github.com/psreek-ai/coinbase-trader/internal/db/conf"
	"github.com/psreek-ai/coinbase-trader/internal/engine"
	"github.com/psreek-ai/coinbase-trader/internal/exchange"
	"github.com/psreek-ai/coinbase-trader/internal/executor"
	"github.com/psreek-ai/coinbase-trader/internal/marketdata"
	"github.com/psreek-ai/coinbase-trader/internal/metrics"
	"github.com/psreek-ai/coinbase-trader/internal/notifier"
	"github.com/psreek-ai/coinbase-trader/internal/reconcile"
	"github.com/psreek-ai/coinbase-trader/internal/risk"
	"github.com/psreek-ai/coinbase-trader/internal/scanner"
	"github.com/psreek-ai/coinbase-trader/internal/state"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Main | Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Main | Received signal %v, shutting down", sig)
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Main | Storage error: %v", err)
	}
	defer closeStore()

	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		log.Fatalf("Main | Strategy error: %v", err)
	}
	rm := risk.NewManager(cfg.Risk)

	log.Printf("Main | Starting in %s mode, strategy %s, %d products configured",
		cfg.Mode, strat.Name(), len(cfg.Products))

	switch cfg.Mode {
	case config.ModeBacktest:
		err = runBacktest(ctx, cfg, store, rm, strat)
	case config.ModeValidate:
		err = runValidate(ctx, cfg, store)
	default:
		err = runTrading(ctx, cfg, store, rm, strat)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("Main | %s mode failed: %v", cfg.Mode, err)
	}
}

// openStore connects Postgres when DATABASE_URL is set and falls back
// to the in-memory store otherwise. Validate has already rejected the
// modes that must not run on memory.
func openStore(ctx context.Context, cfg config.Config) (db.Storage, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("Main | No DATABASE_URL, state lives in memory for this run")
		return db.NewMemory(), func() {}, nil
	}

	c, err := conf.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	c.DB.SetMaxOpenConns(cfg.DatabaseMaxOpen)
	c.DB.SetMaxIdleConns(cfg.DatabaseMaxIdle)

	store, err := db.New(c)
	if err != nil {
		c.DB.Close()
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		c.DB.Close()
		return nil, nil, fmt.Errorf("applying schema: %w", err)
	}
	log.Printf("Main | Postgres connected, schema current")
	return store, func() { c.DB.Close() }, nil
}

// runTrading wires the live stack and hands control to the engine. In
// paper mode orders are simulated against live market data.
func runTrading(ctx context.Context, cfg config.Config, store db.Storage, rm *risk.Manager, strat strategy.Strategy) error {
	creds := exchange.Credentials{KeyName: cfg.APIKeyName, PrivateKey: cfg.APIPrivateKey}
	coinbase, err := exchange.NewCoinbase(creds)
	if err != nil {
		return err
	}

	cache, err := marketdata.NewCache(cfg.PriceCacheTTL)
	if err != nil {
		return err
	}
	coinbase.UseMarketData(cache)
	feed := exchange.NewFeed(cache, cfg.Products)

	engineCfg := cfg.Engine
	var venue exchange.Exchange = coinbase
	if cfg.Mode == config.ModePaper {
		venue = exchange.NewPaper(coinbase, cfg.PaperFeePercent)
		// Paper fills never show up on the exchange's order endpoints,
		// so exits resolve by polling marks instead.
		engineCfg.PollExits = true
		log.Printf("Main | Paper trading: orders simulated at live prices, fee %.2f%%", cfg.PaperFeePercent)
	} else {
		if err := feed.UseCredentials(creds); err != nil {
			return fmt.Errorf("feed credentials: %w", err)
		}
		feed.OnOrderUpdate(func(u exchange.OrderUpdate) {
			log.Printf("Main | Order update %s %s %s: %s filled %.8f @ %.4f",
				u.ProductID, u.Side, u.OrderID, u.RawStatus, u.FilledSize, u.AvgFilledPrice)
		})
	}

	if len(cfg.Products) > 0 || cfg.Mode == config.ModeLive {
		feed.Start(ctx)
		defer feed.Close()
		go watchFeed(ctx, feed)
	}

	// Warm local candle history for the watchlist in the background, so
	// later backtests start from data this process already downloaded.
	go func() {
		for _, id := range cfg.Products {
			if _, err := candle.Backfill(ctx, venue, store, id, cfg.Scanner.Granularity, cfg.Scanner.CandleCount); err != nil && ctx.Err() == nil {
				log.Printf("Main | Candle backfill %s: %v", id, err)
			}
		}
	}()

	n := buildNotifier(cfg)
	exec := executor.New(cfg.Executor, venue, store, rm, n, strat.Name())

	eng := engine.New(engineCfg, engine.Deps{
		Venue:  venue,
		Store:  store,
		Trader: exec,
		Rec:    reconcile.New(cfg.Reconcile, venue, store, exec, n),
		Scan:   scanner.New(cfg.Scanner, venue, strat),
		Risk:   rm,
		State:  state.NewManager(store),
		Prices: cache,
		Notify: n,
	})
	return eng.Run(ctx)
}

// runBacktest replays history for the configured products and reports
// per-product results plus the aggregate.
func runBacktest(ctx context.Context, cfg config.Config, store db.Storage, rm *risk.Manager, strat strategy.Strategy) error {
	venue, err := exchange.NewCoinbase(exchange.Credentials{KeyName: cfg.APIKeyName, PrivateKey: cfg.APIPrivateKey})
	if err != nil {
		return err
	}

	runner := backtest.NewRunner(cfg.Backtest, venue, store, rm, strat)
	summary, err := runner.RunAll(ctx, cfg.Products)
	if err != nil {
		return err
	}
	summary.Log()

	if cfg.Backtest.OutputPath != "" {
		if err := summary.WriteJSON(cfg.Backtest.OutputPath); err != nil {
			return err
		}
		log.Printf("Main | Results written to %s", cfg.Backtest.OutputPath)
	}
	return nil
}

// runValidate grades recorded live trades against what the strategy
// promised.
func runValidate(ctx context.Context, cfg config.Config, store db.Storage) error {
	report, err := backtest.ValidateLive(ctx, store, cfg.ValidateWindow)
	if err != nil {
		return err
	}
	report.Log()
	return nil
}

// watchFeed mirrors websocket health into the metrics endpoint.
func watchFeed(ctx context.Context, feed *exchange.Feed) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetFeedConnected(feed.IsConnected())
		}
	}
}

// buildNotifier prefers Telegram, falls back to the webhook, and stays
// silent when neither is configured.
func buildNotifier(cfg config.Config) notifier.Notifier {
	switch {
	case cfg.TelegramToken != "" && cfg.TelegramChatID != "":
		log.Printf("Main | Telegram notifications on")
		return notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	case cfg.WebhookURL != "":
		log.Printf("Main | Webhook notifications on")
		return notifier.NewWebhookNotifier(cfg.WebhookURL)
	}
	return notifier.Noop{}
}
