package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOrderCounts(t *testing.T) {
	before := testutil.ToFloat64(ordersPlaced.WithLabelValues("paper", "BUY"))
	RecordOrder("paper", "BUY")
	RecordOrder("paper", "BUY")
	after := testutil.ToFloat64(ordersPlaced.WithLabelValues("paper", "BUY"))
	assert.InDelta(t, 2, after-before, 1e-9)
}

func TestRecordTradeClassifiesResult(t *testing.T) {
	wins := testutil.ToFloat64(tradesTotal.WithLabelValues("win"))
	losses := testutil.ToFloat64(tradesTotal.WithLabelValues("loss"))
	stops := testutil.ToFloat64(exitReasons.WithLabelValues("stop_loss"))

	RecordTrade(12.5, "take_profit")
	RecordTrade(-3.1, "stop_loss")

	assert.InDelta(t, 1, testutil.ToFloat64(tradesTotal.WithLabelValues("win"))-wins, 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(tradesTotal.WithLabelValues("loss"))-losses, 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(exitReasons.WithLabelValues("stop_loss"))-stops, 1e-9)
}

func TestGauges(t *testing.T) {
	SetEquity(1234.5)
	assert.InDelta(t, 1234.5, testutil.ToFloat64(equityUSD), 1e-9)

	SetHalted(true)
	assert.InDelta(t, 1, testutil.ToFloat64(tradingHalted), 1e-9)
	SetHalted(false)
	assert.InDelta(t, 0, testutil.ToFloat64(tradingHalted), 1e-9)

	SetScanStats(7, 3.2)
	assert.InDelta(t, 7, testutil.ToFloat64(scanCandidates), 1e-9)
	assert.InDelta(t, 3.2, testutil.ToFloat64(scanDuration), 1e-9)
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	SetEquity(999)
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "bot_equity_usd"))
}
