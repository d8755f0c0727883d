package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"SignalSentinel/internal/api"
	"SignalSentinel/internal/collector"
	"SignalSentinel/internal/config"
	"SignalSentinel/internal/lifecycle"
	"SignalSentinel/internal/logger"
	"SignalSentinel/internal/metrics"
	"SignalSentinel/internal/notifier"
	"SignalSentinel/internal/report"
	"SignalSentinel/internal/scheduler"
	"SignalSentinel/internal/snapshot"
	"SignalSentinel/internal/store"
	"SignalSentinel/internal/strategy"
	"SignalSentinel/internal/tenant"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("SignalSentinel stopped with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	log.Info().Strs("symbols", cfg.Symbols).Msg("SignalSentinel starting")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	// Market data
	var fetcher collector.Fetcher
	switch cfg.DataSource.Provider {
	case "vstrader":
		fetcher = collector.NewVsTraderFetcher(cfg.DataSource.BaseURL, cfg.DataSource.APIKey, cfg.DataSource.Interval, cfg.Proxy, cfg.DataSource.RatePerSecond)
	case "mock":
		fetcher = &collector.MockFetcher{Price: cfg.DataSource.MockPrice}
	default:
		fetcher = collector.NewYahooFetcher(cfg.DataSource.Interval, cfg.Proxy, cfg.DataSource.RatePerSecond)
	}
	log.Info().Str("source", fetcher.Name()).Msg("data source ready")
	col := collector.NewCollector(fetcher, cfg.DataSource.Lookback, cfg.DataSource.Timeout)

	// Snapshots
	var snaps snapshot.Store
	switch cfg.Snapshot.Backend {
	case "redis":
		rs, err := snapshot.NewRedisStore(cfg.Snapshot.Redis.Addr, cfg.Snapshot.Redis.Password, cfg.Snapshot.Redis.DB, cfg.Snapshot.Redis.TTL)
		if err != nil {
			return fmt.Errorf("init redis snapshot store: %w", err)
		}
		defer rs.Close()
		snaps = rs
	default:
		snaps = snapshot.NewMemoryStore()
	}
	refresher := snapshot.NewRefresher(col, snaps, cfg.SnapshotParams(), cfg.Snapshot.Workers, logger.Component(log, "snapshot"), rec)

	// Persistence
	var st store.Store
	switch cfg.Database.Backend {
	case "memory":
		st = store.NewMemoryStore()
	default:
		if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		ss, err := store.NewSQLiteStore(cfg.Database.SQLitePath, logger.Component(log, "store"))
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		st = ss
	}
	defer st.Close()

	detectors := strategy.NewDefaultRegistry(cfg.StrategyConfig())
	manager, err := lifecycle.NewManager(st, col, snaps, cfg.LifecycleRules(), cfg.Lifecycle.Workers, logger.Component(log, "lifecycle"), rec)
	if err != nil {
		return fmt.Errorf("init lifecycle: %w", err)
	}
	tenants := tenant.NewRegistry(st, detectors, cfg.Tenants.EnforceSubscriptions, logger.Component(log, "tenant"))

	// Delivery
	var channel notifier.Channel
	var telegram *notifier.TelegramChannel
	switch cfg.Notifier.Channel {
	case "console":
		channel = notifier.NewConsoleChannel()
	default:
		telegram = notifier.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Proxy, cfg.Telegram.Timeout, cfg.Telegram.RatePerSecond, logger.Component(log, "telegram"))
		channel = telegram
	}
	dispatcher := notifier.NewDispatcher(channel, tenants, cfg.Notifier.Workers, cfg.Notifier.Timeout, logger.Component(log, "notifier"), rec)
	reports := report.NewAggregator(snaps, st, cfg.Report.RankSize)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.NewScheduler(ctx, scheduler.Deps{
		Symbols:    cfg.Symbols,
		Refresher:  refresher,
		Snapshots:  snaps,
		Detectors:  detectors,
		Lifecycle:  manager,
		Tenants:    tenants,
		Dispatcher: dispatcher,
		Reports:    reports,
		Workers:    cfg.Snapshot.Workers,
	}, logger.Component(log, "scheduler"), rec)
	if err := sched.RegisterAll(scheduler.Specs{
		Refresh: cfg.Schedule.RefreshCron,
		Sweep:   cfg.Schedule.SweepCron,
		Track:   cfg.Schedule.TrackCron,
		Hourly:  cfg.Schedule.HourlyCron,
		Daily:   cfg.Schedule.DailyCron,
		Weekly:  cfg.Schedule.WeeklyCron,
	}); err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	if telegram != nil && cfg.Telegram.Polling {
		go telegram.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	var srv *api.Server
	if cfg.API.Enabled {
		srv = api.NewServer(&api.Handler{
			Tenants:       tenants,
			Reports:       reports,
			Opportunities: manager,
			Jobs:          sched,
		}, cfg.API.Addr, cfg.API.Token, reg, logger.Component(log, "api"))
		srv.Start()
	}

	if cfg.Schedule.RunOnStart {
		log.Info().Msg("run_on_start enabled, refreshing and sweeping now")
		go sched.RunOnStart()
	}

	log.Info().Msg("SignalSentinel is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	cancel()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("stop admin api")
		}
	}
	log.Info().Msg("SignalSentinel stopped")
	return nil
}
