package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backtest run metrics
var (
	// Total backtest runs, by outcome (success/error)
	BacktestRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Total number of backtest engine runs by outcome",
	}, []string{"status"})

	// Trades produced per run, by symbol
	BacktestTradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_trades_total",
		Help: "Total number of trades recorded across backtest runs, by symbol",
	}, []string{"symbol"})

	// Wall-clock duration of a single Run call
	BacktestRunDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtest_run_duration_seconds",
		Help:    "Wall-clock duration of a single backtest engine run in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
	}, []string{"symbol"})
)

// RecordBacktestRun records the outcome, trade count, and duration of one
// BacktestEngine.Run call.
func RecordBacktestRun(symbol string, tradeCount int, durationSeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	BacktestRunsTotal.WithLabelValues(status).Inc()
	BacktestRunDurationSeconds.WithLabelValues(symbol).Observe(durationSeconds)
	if err == nil {
		BacktestTradesTotal.WithLabelValues(symbol).Add(float64(tradeCount))
	}
}
