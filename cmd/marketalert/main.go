package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rewired-gh/marketalert/internal/alphavantage"
	"github.com/rewired-gh/marketalert/internal/config"
	"github.com/rewired-gh/marketalert/internal/logger"
	"github.com/rewired-gh/marketalert/internal/metrics"
	"github.com/rewired-gh/marketalert/internal/monitor"
	"github.com/rewired-gh/marketalert/internal/notify"
	"github.com/rewired-gh/marketalert/internal/scheduler"
	"github.com/rewired-gh/marketalert/internal/server"
	"github.com/rewired-gh/marketalert/internal/storage"
	"github.com/rewired-gh/marketalert/internal/telegram"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	envPath    = flag.String("env", ".env", "Optional .env file loaded before the configuration")
)

// alertNotifier is what both the Telegram client and the log notifier provide.
type alertNotifier interface {
	monitor.Notifier
	scheduler.StatusNotifier
	server.HealthReporter
}

type closer func() error

func main() {
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s (%d tickers)", *configPath, len(cfg.Tickers))
	if cfg.AlphaVantage.UseCache {
		logger.Warn("Cached market data files will be used when available (%s)", cfg.AlphaVantage.CacheDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()

	store, auditLog, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var (
		notifier       alertNotifier
		telegramClient *telegram.Client
	)
	if cfg.Telegram.Enabled {
		loc, err := time.LoadLocation(cfg.Telegram.Timezone)
		if err != nil {
			logger.Fatal("Invalid Telegram timezone %q: %v", cfg.Telegram.Timezone, err)
		}
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay, loc)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		notifier = notify.NewLogNotifier()
		logger.Info("Telegram notifications disabled, notifications go to the log")
	}

	tickers, err := cfg.MonitorTickers()
	if err != nil {
		logger.Fatal("Invalid tickers: %v", err)
	}
	opts := []monitor.Option{monitor.WithMetrics(m)}
	if auditLog != nil {
		opts = append(opts, monitor.WithNotificationLog(auditLog))
	}
	mon, err := monitor.New(store, notifier, tickers, opts...)
	if err != nil {
		logger.Fatal("Failed to initialize monitor: %v", err)
	}

	fetchOpts := []alphavantage.Option{
		alphavantage.WithRetry(cfg.AlphaVantage.MaxRetries, cfg.AlphaVantage.RetryDelay),
	}
	if cfg.AlphaVantage.UseCache {
		fetchOpts = append(fetchOpts, alphavantage.WithCache(cfg.AlphaVantage.CacheDir))
	}
	fetcher := alphavantage.NewClient(cfg.AlphaVantage.BaseURL, cfg.AlphaVantage.APIKey, cfg.AlphaVantage.Timeout, fetchOpts...)

	jobs := make([]scheduler.Job, 0, len(cfg.Tickers))
	for i, t := range cfg.Tickers {
		jobs = append(jobs, scheduler.Job{
			Symbol:   t.Symbol,
			Interval: t.Interval,
			Schedule: t.Schedule,
			Location: tickers[i].Location,
		})
	}
	sched, err := scheduler.New(fetcher, mon, notifier, m, jobs)
	if err != nil {
		logger.Fatal("Failed to initialize scheduler: %v", err)
	}

	if telegramClient != nil {
		telegramClient.SetStatusFunc(sched.Summary)
		telegramClient.ListenForCommands(ctx)
		if err := telegramClient.SendStartup(ctx, version); err != nil {
			logger.Warn("Failed to send startup message: %v", err)
		}
	}

	logger.Info("Market alert bot %s starting", version)
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Enabled {
		srvOpts := server.Options{
			Addr:         cfg.Server.Addr,
			Version:      version,
			TriggerToken: cfg.Server.TriggerToken,
			Notifier:     notifier,
			Runner:       sched,
			Metrics:      m.Handler(),
			States:       mon.Tracker().Snapshot,
		}
		if lister, ok := auditLog.(server.NotificationLister); ok {
			srvOpts.Notifications = lister
		}
		srv := server.New(srvOpts)
		g.Go(srv.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, waiting for running jobs...")
		<-sched.Stop().Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error: %v", err)
		return
	}
	logger.Info("Service stopped")
}

// openStore returns the dedupe store, the optional audit log and a close function.
func openStore(ctx context.Context, cfg config.StorageConfig) (monitor.StateStore, monitor.NotificationLog, closer, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := storage.New(cfg.MaxNotifications, cfg.DBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		states, err := s.LoadAllStates(ctx)
		if err != nil {
			_ = s.Close()
			return nil, nil, nil, err
		}
		logger.Info("SQLite store opened at %s (%d symbols with saved state)", cfg.DBPath, len(states))
		return s, s, s.Close, nil
	case "redis":
		r, err := storage.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("Redis store connected at %s", cfg.Redis.Addr)
		return r, nil, r.Close, nil
	case "memory":
		logger.Warn("Memory store selected: notification state is lost on restart")
		return storage.NewMemoryStore(), nil, func() error { return nil }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
