// Backtest Runner CLI
// Runs the HYPERRSI strategy against historical candlestick data and
// reports performance metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seungdori/hyperrsi-backtest/internal/db"
	"github.com/seungdori/hyperrsi-backtest/internal/metrics"
	internalstrategy "github.com/seungdori/hyperrsi-backtest/internal/strategy"
	"github.com/seungdori/hyperrsi-backtest/internal/store"
	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

var (
	strategyPath = flag.String("strategy", "", "Path to a strategy config file (YAML or JSON), or a comma-separated list for a parameter sweep")
	symbol       = flag.String("symbol", "BTC/USDT", "Symbol to trade")
	timeframe    = flag.String("timeframe", "1h", "Candle timeframe (1m, 5m, 15m, 1h, 4h, 1d)")

	startDate = flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate   = flag.String("end", "", "End date (YYYY-MM-DD)")

	initialCapital = flag.Float64("capital", 10000.0, "Initial balance in quote currency")

	outputFile  = flag.String("output", "", "Write the JSON backtest result to this file (optional); for a sweep, the strategy's base name is inserted before the extension")
	saveToDB    = flag.Bool("save", false, "Persist the result to the backtest_jobs table")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	concurrency = flag.Int("concurrency", 4, "Maximum number of sweep runs executed concurrently")
	metricsPort = flag.Int("metrics-port", 0, "Serve Prometheus metrics on this port while the run executes (0 disables)")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *strategyPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -strategy flag is required")
		fmt.Fprintln(os.Stderr, "\nExample:")
		fmt.Fprintln(os.Stderr, "  ./backtest -strategy=hyperrsi.yaml -symbol=BTC/USDT -timeframe=1h -start=2024-01-01 -end=2024-12-31")
		fmt.Fprintln(os.Stderr, "  ./backtest -strategy=a.yaml,b.yaml,c.yaml -symbol=BTC/USDT -timeframe=1h -start=2024-01-01 -end=2024-12-31")
		flag.Usage()
		os.Exit(1)
	}
	if *startDate == "" || *endDate == "" {
		fmt.Fprintln(os.Stderr, "Error: -start and -end dates are required")
		flag.Usage()
		os.Exit(1)
	}

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid start date format (use YYYY-MM-DD)")
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid end date format (use YYYY-MM-DD)")
	}

	paths := splitPaths(*strategyPath)

	log.Info().
		Strs("strategy_files", paths).
		Str("symbol", *symbol).
		Str("timeframe", *timeframe).
		Float64("capital", *initialCapital).
		Msg("starting backtest")

	if *metricsPort > 0 {
		srv := metrics.NewServer(*metricsPort, log.Logger)
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start metrics server")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctx := context.Background()
	if err := runSweep(ctx, paths, start, end); err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	log.Info().Msg("backtest completed successfully")
}

func splitPaths(raw string) []string {
	parts := strings.Split(raw, ",")
	paths := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// runSweep loads the shared candle set once, then runs one BacktestEngine
// per strategy file. A single file runs inline; more than one fans out
// across bounded goroutines, each owning its own Strategy/Engine value, so
// a parameter sweep over N strategy configs doesn't pay for N serial scans
// of the same candle range.
func runSweep(ctx context.Context, paths []string, start, end time.Time) error {
	database, err := db.New(ctx)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	candleRepo := db.NewCandleRepositoryWithPool(database.Pool())

	avail, err := candleRepo.ValidateDataAvailability(ctx, *symbol, *timeframe, start, end)
	if err != nil {
		return fmt.Errorf("validate data availability: %w", err)
	}
	if !avail.Available {
		return &backtest.DataUnavailableError{Msg: fmt.Sprintf("no candle data for %s %s in range", *symbol, *timeframe)}
	}
	if avail.Coverage < 0.9 {
		log.Warn().Float64("coverage", avail.Coverage).Msg("candle coverage below 90%, results may be unreliable")
	}

	candles, err := candleRepo.GetCandles(ctx, *symbol, *timeframe, start, end)
	if err != nil {
		return fmt.Errorf("load candles: %w", err)
	}

	specPtr, err := candleRepo.GetSymbolInfo(ctx, *symbol)
	if err != nil {
		return fmt.Errorf("load symbol info: %w", err)
	}
	baseCurrency := strings.SplitN(*symbol, "/", 2)[0]
	spec := backtest.ResolveSymbolSpec(specPtr, baseCurrency)

	if len(paths) == 1 {
		return runOne(ctx, database, candles, spec, paths[0], *outputFile)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			return runOne(gctx, database, candles, spec, p, sweepOutputPath(*outputFile, p))
		})
	}
	return g.Wait()
}

// sweepOutputPath inserts the strategy file's base name before the output
// file's extension so concurrent sweep runs never collide on one path.
func sweepOutputPath(output, strategyFile string) string {
	if output == "" {
		return ""
	}
	ext := filepath.Ext(output)
	base := strings.TrimSuffix(filepath.Base(strategyFile), filepath.Ext(strategyFile))
	return fmt.Sprintf("%s.%s%s", strings.TrimSuffix(output, ext), base, ext)
}

func runOne(ctx context.Context, database *db.DB, candles []backtest.Candle, spec backtest.SymbolSpec, strategyFile, outPath string) error {
	cfg, err := internalstrategy.ImportFromFile(strategyFile, internalstrategy.DefaultImportOptions())
	if err != nil {
		return fmt.Errorf("load strategy config %s: %w", strategyFile, err)
	}

	strat, err := internalstrategy.NewHyperrsiStrategy(cfg.Parameters)
	if err != nil {
		return fmt.Errorf("build strategy %s: %w", strategyFile, err)
	}

	order := backtest.NewOrderSimulator()
	engine := backtest.NewBacktestEngine(strat, order, spec, *initialCapital)

	runStart := time.Now()
	result, err := engine.Run(ctx, candles, *symbol, *timeframe, cfg.Metadata.Name)
	duration := time.Since(runStart).Seconds()
	tradeCount := 0
	if result != nil {
		tradeCount = len(result.Trades)
	}
	metrics.RecordBacktestRun(*symbol, tradeCount, duration, err)
	if err != nil {
		return fmt.Errorf("run backtest %s: %w", strategyFile, err)
	}
	result.StrategyParams = cfg.Parameters

	log.Info().
		Str("strategy_file", strategyFile).
		Int("total_trades", result.Metrics.TotalTrades).
		Float64("win_rate", result.Metrics.WinRate).
		Float64("profit_factor", result.Metrics.ProfitFactor).
		Float64("total_return_percent", result.Metrics.TotalReturnPercent).
		Float64("sharpe_ratio", result.Metrics.SharpeRatio).
		Msg("backtest result")

	if outPath != "" {
		data, err := backtestResultJSON(result)
		if err != nil {
			return fmt.Errorf("encode result %s: %w", strategyFile, err)
		}
		if err := os.WriteFile(outPath, data, 0600); err != nil {
			return fmt.Errorf("write output file %s: %w", outPath, err)
		}
		log.Info().Str("file", outPath).Msg("result written to file")
	}

	if *saveToDB {
		sink := store.NewJobManagerWithPool(database.Pool())
		if err := sink.Save(ctx, result); err != nil {
			return fmt.Errorf("save result %s: %w", strategyFile, err)
		}
	}

	return nil
}

func backtestResultJSON(result *backtest.BacktestResult) ([]byte, error) {
	return json.MarshalIndent(result, "", "  ")
}
