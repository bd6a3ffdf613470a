// Package main runs an event-driven backtest from a YAML config, serving run
// progress and prometheus metrics over HTTP while the simulation executes.
// With --live it switches to a websocket feed and dispatches against the wall
// clock instead of replaying history.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantfold/backtester/internal/api"
	"github.com/quantfold/backtester/internal/calendar"
	"github.com/quantfold/backtester/internal/data"
	"github.com/quantfold/backtester/internal/engine"
	"github.com/quantfold/backtester/internal/notify"
	"github.com/quantfold/backtester/pkg/types"
)

const dateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	host := flag.String("host", "localhost", "Status server host")
	port := flag.Int("port", 8080, "Status server port")
	dataDir := flag.String("data", "./data", "Market data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	live := flag.Bool("live", false, "Run against the live feed instead of history")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	v := viper.New()
	v.SetDefault("symbols", []string{"IBM", "MSFT"})
	v.SetDefault("start_date", "2018-01-01")
	v.SetDefault("end_date", "2019-01-01")
	v.SetDefault("data_dir", *dataDir)
	v.SetDefault("rebalance.target", 0.45)
	v.SetDefault("feed_url", "ws://localhost:9001/stream")
	v.SetDefault("state_path", "")
	v.SetDefault("webhook_url", "")
	v.SetDefault("server.host", *host)
	v.SetDefault("server.port", *port)
	v.SetEnvPrefix("BACKTESTER")
	v.AutomaticEnv()
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			logger.Fatal("Failed to read config", zap.Error(err))
		}
		logger.Info("Loaded config", zap.String("file", v.ConfigFileUsed()))
	}

	cfg := types.DefaultBacktestConfig()
	cfg.Symbols = v.GetStringSlice("symbols")
	var err error
	cfg.StartDate, err = time.Parse(dateLayout, v.GetString("start_date"))
	if err != nil {
		logger.Fatal("Invalid start_date", zap.Error(err))
	}
	cfg.EndDate, err = time.Parse(dateLayout, v.GetString("end_date"))
	if err != nil {
		logger.Fatal("Invalid end_date", zap.Error(err))
	}
	if v.IsSet("initial_capital") {
		cfg.InitialCapital = decimal.NewFromFloat(v.GetFloat64("initial_capital"))
	}
	if v.IsSet("allow_margin") {
		cfg.AllowMargin = v.GetBool("allow_margin")
	}
	if v.IsSet("slippage.model") {
		cfg.Slippage.Model = v.GetString("slippage.model")
	}
	if v.IsSet("slippage.mean") {
		cfg.Slippage.Mean = v.GetFloat64("slippage.mean")
	}
	if v.IsSet("slippage.std_dev") {
		cfg.Slippage.StdDev = v.GetFloat64("slippage.std_dev")
	}
	if v.IsSet("slippage.seed") {
		cfg.Slippage.Seed = v.GetInt64("slippage.seed")
	}
	if v.IsSet("slippage.fixed_bps") {
		cfg.Slippage.FixedBps = decimal.NewFromFloat(v.GetFloat64("slippage.fixed_bps"))
	}
	if v.IsSet("commission.per_share") {
		cfg.Commission.PerShare = decimal.NewFromFloat(v.GetFloat64("commission.per_share"))
	}
	if v.IsSet("commission.minimum") {
		cfg.Commission.Minimum = decimal.NewFromFloat(v.GetFloat64("commission.minimum"))
	}

	serverConfig := types.ServerConfig{
		Host: v.GetString("server.host"),
		Port: v.GetInt("server.port"),
	}

	logger.Info("Starting backtester",
		zap.Strings("symbols", cfg.Symbols),
		zap.Time("start", cfg.StartDate),
		zap.Time("end", cfg.EndDate),
		zap.Bool("live", *live),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := data.NewFileStore(logger, v.GetString("data_dir"))
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	var notifier notify.Notifier = notify.NewConsole(logger)
	if url := v.GetString("webhook_url"); url != "" {
		notifier = notify.NewWebhook(logger, url)
	}

	holidays := calendar.USHolidays()
	opts := []engine.Option{engine.WithMetrics(metrics), engine.WithNotifier(notifier)}

	var strategy *engine.Strategy
	var run func(context.Context) error
	if *live {
		feed := data.NewWSFeed(logger, data.DefaultWSFeedConfig(v.GetString("feed_url")))
		liveStrategy, err := engine.NewLive(logger, cfg, store, feed, holidays, opts...)
		if err != nil {
			logger.Fatal("Failed to build live strategy", zap.Error(err))
		}
		strategy = liveStrategy.Strategy
		run = liveStrategy.Run
	} else {
		strategy, err = engine.New(ctx, logger, cfg, store, holidays, opts...)
		if err != nil {
			logger.Fatal("Failed to build strategy", zap.Error(err))
		}
		run = strategy.Run
	}

	// Demo strategy: equal-weight rebalance at each month start, half an
	// hour after the open.
	target := v.GetFloat64("rebalance.target") / float64(len(cfg.Symbols))
	openTime, err := calendar.NewMarketOpen(0, 30)
	if err != nil {
		logger.Fatal("Invalid schedule time", zap.Error(err))
	}
	symbols := cfg.Symbols
	err = strategy.ScheduleFunc(func() {
		for _, symbol := range symbols {
			strategy.OrderTargetPercent(symbol, target)
		}
		strategy.Log("rebalanced to equal weights")
	}, strategy.DateRules().MonthStart(0), openTime)
	if err != nil {
		logger.Fatal("Failed to schedule rebalance", zap.Error(err))
	}

	server := api.NewServer(logger, serverConfig, api.NewStrategyView(strategy), registry)
	go func() {
		if err := server.Start(); err != nil {
			logger.Warn("Status server exited", zap.Error(err))
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			logger.Error("Run failed", zap.Error(err))
		}
	}

	if path := v.GetString("state_path"); path != "" {
		if err := strategy.SaveState(path); err != nil {
			logger.Error("Failed to save state", zap.Error(err))
		}
	}

	equity := strategy.Portfolio().Holding(types.FieldEquityCurve)
	fmt.Printf("Final return: %s%%\n", equity.Mul(hundred).Round(4))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
	logger.Info("Backtester stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
