// Package metrics exposes Prometheus metrics the bot updates during
// operation:
//   - bot_orders_total{mode,side}     – orders placed (mode: paper|live)
//   - bot_order_failures_total{stage} – order flow failures by stage
//   - bot_trades_total{result}        – closed trades (win|loss|breakeven)
//   - bot_exit_reasons_total{reason}  – exits split by reason
//   - bot_equity_usd                  – current equity snapshot
//   - bot_open_positions              – open position count
//   - bot_drawdown_percent            – current drawdown from peak
//   - bot_trading_halted              – 1 while the drawdown halt is active
//   - bot_scan_candidates             – candidates from the last scan
//   - bot_scan_duration_seconds       – duration of the last scan
//   - bot_cycle_duration_seconds      – duration of the last trading cycle
//   - bot_feed_connected              – 1 while the websocket feed is up
//   - bot_api_errors_total{venue}     – exchange API errors
//
// Registered in init() and served at /metrics by the handler below.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"mode", "side"},
	)

	orderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_order_failures_total",
			Help: "Order flow failures by stage (preview|place|timeout|cancel)",
		},
		[]string{"stage"},
	)

	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Closed trades by result (win|loss|breakeven)",
		},
		[]string{"result"},
	)

	exitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position exits split by reason",
		},
		[]string{"reason"},
	)

	equityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Equity in USD",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open position count",
		},
	)

	drawdownPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_drawdown_percent",
			Help: "Current drawdown from the equity peak, in percent",
		},
	)

	tradingHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_trading_halted",
			Help: "1 while the drawdown halt blocks new entries",
		},
	)

	scanCandidates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_scan_candidates",
			Help: "Buy candidates found by the last market scan",
		},
	)

	scanDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_scan_duration_seconds",
			Help: "Duration of the last market scan",
		},
	)

	cycleDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_cycle_duration_seconds",
			Help: "Duration of the last trading cycle",
		},
	)

	feedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_feed_connected",
			Help: "1 while the websocket market data feed is connected",
		},
	)

	apiErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_api_errors_total",
			Help: "Exchange API errors",
		},
		[]string{"venue"},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, orderFailures, tradesTotal, exitReasons)
	prometheus.MustRegister(equityUSD, openPositions, drawdownPct, tradingHalted)
	prometheus.MustRegister(scanCandidates, scanDuration, cycleDuration, feedConnected)
	prometheus.MustRegister(apiErrors)
}

func RecordOrder(mode, side string) { ordersPlaced.WithLabelValues(mode, side).Inc() }

func RecordOrderFailure(stage string) { orderFailures.WithLabelValues(stage).Inc() }

// RecordTrade counts a closed trade by sign of its PnL and by exit reason.
func RecordTrade(pnl float64, reason string) {
	switch {
	case pnl > 0:
		tradesTotal.WithLabelValues("win").Inc()
	case pnl < 0:
		tradesTotal.WithLabelValues("loss").Inc()
	default:
		tradesTotal.WithLabelValues("breakeven").Inc()
	}
	exitReasons.WithLabelValues(reason).Inc()
}

func SetEquity(v float64) { equityUSD.Set(v) }

func SetOpenPositions(n int) { openPositions.Set(float64(n)) }

func SetDrawdownPercent(v float64) { drawdownPct.Set(v) }

func SetHalted(halted bool) {
	if halted {
		tradingHalted.Set(1)
	} else {
		tradingHalted.Set(0)
	}
}

func SetScanStats(candidates int, seconds float64) {
	scanCandidates.Set(float64(candidates))
	scanDuration.Set(seconds)
}

func SetCycleDuration(seconds float64) { cycleDuration.Set(seconds) }

func SetFeedConnected(connected bool) {
	if connected {
		feedConnected.Set(1)
	} else {
		feedConnected.Set(0)
	}
}

func IncAPIError(venue string) { apiErrors.WithLabelValues(venue).Inc() }

// Handler serves /metrics in Prometheus text exposition format plus a
// /healthz liveness probe.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve starts the metrics server on addr. Callers own shutdown.
func Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		logger := utils.GetLogger()
		logger.Printf("Metrics | Serving on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Metrics | Server stopped: %v", err)
		}
	}()
	return srv
}
