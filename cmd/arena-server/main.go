package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/grafana/pyroscope-go"

	"github.com/Masterora/agent-arena/internal/api"
	"github.com/Masterora/agent-arena/internal/arena"
	"github.com/Masterora/agent-arena/internal/config"
	"github.com/Masterora/agent-arena/internal/httpapi"
	"github.com/Masterora/agent-arena/internal/market"
	"github.com/Masterora/agent-arena/internal/store"
	"github.com/Masterora/agent-arena/internal/strategy/builtins"
	"github.com/Masterora/agent-arena/internal/telemetry"
	"github.com/Masterora/agent-arena/internal/util"
)

var version = "0.1.0"

func main() {
	cfg, err := config.LoadOrDefault(config.PathFromEnv())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("arena-server: %v", err)
	}
}

func run(cfg *config.Config) error {
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Interval:       cfg.Telemetry.Interval.Std(),
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Telemetry.ServiceName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags:            map[string]string{"version": version},
			Logger:          profileLogger{logger.With("component", "pyroscope")},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("pyroscope start: %w", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	alpaca := market.NewAlpaca(market.AlpacaOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		RateLimitPerMin: cfg.Market.RateLimitPerMin,
		RetryAttempts:   cfg.Market.RetryAttempts,
		RetryDelay:      cfg.Market.RetryDelay.Std(),
	})
	sources := market.NewSources(
		market.NewSynthetic(),
		market.NewCached(alpaca, store.NewParquetStore(cfg.Storage.DataDir), cfg.Market.CacheTTL.Std()),
	)

	svc := arena.NewService(db, db, builtins.NewRegistry(cfg.Engine.ScriptTimeout.Std()), sources, arena.Options{
		DefaultCapital:   cfg.Arena.DefaultInitialCapital,
		DefaultPair:      cfg.Arena.DefaultTradingPair,
		DefaultTimeframe: cfg.Engine.Timeframe,
		DefaultSource:    cfg.Arena.DefaultSource,
		DefaultSteps:     cfg.Arena.DefaultDurationSteps,
		MaxStrategies:    cfg.Arena.MaxStrategiesPerMatch,
		MaxDurationSteps: cfg.Arena.MaxDurationSteps,
		FeeRate:          cfg.Engine.FeeRate,
		SlippageRate:     cfg.Engine.SlippageRate,
		Workers:          cfg.Arena.Workers,
	}, logger)
	defer svc.Close()

	rest := httpapi.NewServer(svc, sources.Names(), version, logger)
	srv := api.NewServer(cfg.Server, svc, rest, logger)

	logger.Info("arena-server starting",
		"version", version,
		"http", cfg.Server.HTTPAddr(),
		"grpc", cfg.Server.GRPCAddr(),
		"sources", sources.Names(),
		"metrics", tp.Enabled(),
	)
	return srv.ListenAndServe(ctx)
}

// profileLogger routes pyroscope messages through slog.
type profileLogger struct{ log *slog.Logger }

func (l profileLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l profileLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l profileLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}
