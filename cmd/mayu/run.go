package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jkaninda/mayu/internal/config"
	"github.com/jkaninda/mayu/internal/gateway"
	"github.com/jkaninda/mayu/internal/httpapi"
	"github.com/jkaninda/mayu/internal/notification"
	"github.com/jkaninda/mayu/internal/observability"
	"github.com/jkaninda/mayu/internal/scheduler"
	"github.com/jkaninda/mayu/internal/storage"
	pgstore "github.com/jkaninda/mayu/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/mayu/internal/storage/sqlite"
)

var (
	configPath string
	logLevel   string
	httpAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the gateway and welcome new members (default)",
	RunE:  runBot,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().StringVar(&configPath, "config", "", "path to config file (JSON, YAML or TOML)")
		cmd.Flags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
		cmd.Flags().StringVar(&httpAddr, "http-addr", "", "enable the status server on this address (e.g. :8080)")
	}
}

// runBot starts the gateway session and every supporting component, and
// blocks until a shutdown signal or a fatal gateway error.
func runBot(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("MAYU_CONFIG", configPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if httpAddr != "" {
		if cfg.HTTP == nil {
			cfg.HTTP = &config.HTTPConfig{}
		}
		cfg.HTTP.Enabled = true
		cfg.HTTP.ListenAddr = httpAddr
	}

	logger := newLogger(cfg.Log)
	logger.Info("starting mayu",
		slog.String("version", version),
		slog.String("guild_id", cfg.Discord.GuildID),
	)

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	cleanups = append(cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	logger.Debug("observability initialized",
		slog.Bool("metrics", obs.Metrics != nil),
		slog.Bool("tracing", obs.Tracer != nil),
		slog.Bool("anomaly", obs.Anomaly != nil),
	)

	// Welcome history.
	store, err := initStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	if store != nil {
		cleanups = append(cleanups, func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing store", slog.String("error", err.Error()))
			}
		})
		if err := store.Migrate(context.Background()); err != nil {
			return fmt.Errorf("migrating %s store: %w", store.Driver(), err)
		}
		logger.Debug("storage initialized", slog.String("driver", store.Driver()))
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := newDispatcher(cfg, store, obs, logger)
	dispatcher.Start(ctx)
	cleanups = append(cleanups, dispatcher.Close)

	client := gateway.NewClient(gateway.ClientConfig{
		URL: cfg.Discord.GatewayURL,
		Machine: gateway.MachineConfig{
			Token:   cfg.Discord.Token,
			Intents: cfg.Discord.Intents,
			GuildID: cfg.Discord.GuildID,
		},
		Policy: gateway.ReconnectPolicy{
			MaxAttempts: cfg.Reconnect.MaxReconnectAttempts(),
			BaseDelay:   cfg.Reconnect.BaseDelay(),
		},
	}, gateway.WSDialer{}, dispatcher, obs.MetricsOrNil(), logger)

	obs.Health.AddCheck("gateway", client.CheckActive)
	if store != nil {
		obs.Health.AddCheck("storage", store.Ping)
	}

	// Status server (optional).
	serverErr := make(chan error, 1)
	var srv *httpapi.Server
	if cfg.HTTP != nil && cfg.HTTP.Enabled {
		srv = newStatusServer(cfg, obs, client, dispatcher, logger)
		go func() {
			serverErr <- srv.Start(ctx)
		}()
	}

	// Retention (optional, requires a store).
	if store != nil && cfg.Storage.Retention() > 0 {
		var metrics *scheduler.Metrics
		if obs.Metrics != nil {
			metrics = scheduler.NewMetrics(obs.Metrics.Registry)
		}
		retention, err := scheduler.NewRetention(store, scheduler.Config{
			Schedule: cfg.Storage.Schedule(),
			MaxAge:   cfg.Storage.Retention(),
		}, metrics, logger)
		if err != nil {
			return fmt.Errorf("initializing retention: %w", err)
		}
		cleanups = append(cleanups, retention.Start(ctx))
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(ctx)
	}()

	var exitErr error
	select {
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("gateway client stopped", slog.String("error", err.Error()))
			exitErr = err
		} else {
			logger.Info("shutdown signal received")
		}
	case err := <-serverErr:
		if err != nil {
			logger.Error("status server exited with error", slog.String("error", err.Error()))
			exitErr = fmt.Errorf("status server: %w", err)
		}
		stop()
		<-runErr
	}
	stop()

	if srv != nil {
		if err := srv.Stop(); err != nil {
			logger.Error("stopping status server", slog.String("error", err.Error()))
		}
	}
	return exitErr
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// initStore opens the configured history backend. It returns nil for the "none" driver.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverNone:
		return nil, nil
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sqlitestore.Config{
		Path:        cfg.DatabasePath(),
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pg := cfg.Storage.Postgres
	pgDB, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(pgDB), nil
}

// newDispatcher builds the welcome dispatcher with the Discord channel sender
// and the optional webhook mirror, both instrumented.
func newDispatcher(cfg *config.Config, store storage.Store, obs *observability.Observability, logger *slog.Logger) *notification.Dispatcher {
	var history notification.DeliveryStore
	if store != nil {
		history = store
	}

	metrics := obs.MetricsOrNil()
	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{
		QueueSize: cfg.Notification.Queue(),
		Workers:   cfg.Notification.Concurrency(),
		Timeout:   cfg.Notification.Timeout(),
		OnDropped: func(notification.MemberJoined) {
			if metrics != nil {
				metrics.NotificationsDroppedTotal.Inc()
			}
		},
	}, history, logger)

	var opts []notification.DiscordOption
	if cfg.Discord.APIBaseURL != "" {
		opts = append(opts, notification.WithAPIBaseURL(cfg.Discord.APIBaseURL))
	}
	discord := notification.NewDiscordSender(cfg.Discord.Token, cfg.Discord.WelcomeChannelID, cfg.Discord.WelcomeMessage, logger, opts...)
	dispatcher.RegisterSender(observability.NewInstrumentedSender(discord, metrics, obs.TracerOrNil(), obs.Anomaly))

	if cfg.Notification.WebhookURL != "" {
		webhook := notification.NewWebhookSender(cfg.Notification.WebhookURL, cfg.Notification.WebhookAllowPrivate, logger)
		dispatcher.RegisterSender(observability.NewInstrumentedSender(webhook, metrics, obs.TracerOrNil(), obs.Anomaly))
		logger.Debug("webhook mirror enabled")
	}
	return dispatcher
}

func newStatusServer(cfg *config.Config, obs *observability.Observability, client *gateway.Client, history httpapi.HistorySource, logger *slog.Logger) *httpapi.Server {
	apiCfg := httpapi.Config{
		ListenAddr:    cfg.HTTP.Addr(),
		HealthChecker: obs.Health,
		Metrics:       obs.MetricsOrNil(),
	}
	if obs.Metrics != nil {
		apiCfg.MetricsRegistry = obs.Metrics.Registry
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			apiCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	if obs.Tracer != nil {
		apiCfg.Tracer = obs.Tracer.Tracer()
	}
	return httpapi.NewServer(apiCfg, client, history, logger)
}
