package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"water-order-bot/internal/bot"
	"water-order-bot/internal/config"
	"water-order-bot/internal/database"
	"water-order-bot/internal/handler"
	"water-order-bot/internal/mailbox"
	"water-order-bot/internal/metrics"
	"water-order-bot/internal/monitor"
	"water-order-bot/internal/notifier"
	"water-order-bot/internal/orders"
	"water-order-bot/internal/router"
	"water-order-bot/internal/scheduler"
	"water-order-bot/internal/service"
)

const shutdownTimeout = 30 * time.Second

// App holds the wired components of the service.
type App struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     orders.Store
	botAPI    *tgbotapi.BotAPI
	bot       *bot.Bot
	scheduler *scheduler.Scheduler
	closers   []func() error
}

// NewLogger configures the standard logrus logger for cfg.
func NewLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// LoadConfig loads and validates the configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// OpenStore opens the configured order store. A SQL database that cannot be
// opened yields a degraded store rather than an error. The returned function
// releases the underlying connection.
func OpenStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (orders.Store, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Store.Backend {
	case config.BackendSQL:
		db, err := database.InitDatabase(cfg.Database, log)
		if err != nil {
			log.WithError(err).Error("Failed to initialize database")
			return orders.NewGormStore(nil, log), nop, nil
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
		}
		return orders.NewGormStore(db, log), sqlDB.Close, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return orders.NewRedisStore(ctx, client, orders.DefaultRedisPrefix, log), client.Close, nil
	case config.BackendMemory:
		return orders.NewMemoryStore(log), nop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// New wires every component. Metrics are registered with reg.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{cfg: cfg, log: log}

	store, closeStore, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	m := metrics.NewMetrics(reg)

	mb, err := mailbox.New(ctx, cfg.Gmail, cfg.Mail, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create mailbox: %w", err)
	}

	if err := tgbotapi.SetLogger(log); err != nil {
		log.WithError(err).Warn("Failed to set Telegram client logger")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create Telegram client: %w", err)
	}
	a.botAPI = botAPI
	log.WithField("bot", botAPI.Self.UserName).Info("Telegram client authorized")

	n := notifier.NewTelegramNotifier(botAPI, log)
	engine := monitor.NewEngine(store, mb, n, log, monitor.WithMetrics(m))

	schedOpts := []scheduler.Option{scheduler.WithMetrics(m)}
	if cfg.Store.Retention > 0 {
		schedOpts = append(schedOpts, scheduler.WithRetention(store, cfg.Store.Retention))
	}
	a.scheduler = scheduler.New(cfg.Scheduler, engine, log, schedOpts...)

	whitelist, err := cfg.Telegram.Whitelist()
	if err != nil {
		a.Close()
		return nil, err
	}
	svc := service.NewOrderService(mb, store, cfg.Order, m, log)
	a.bot = bot.New(botAPI, svc, whitelist, log)

	return a, nil
}

// Close releases the store connection.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.WithError(err).Error("Failed to close resource")
		}
	}
	a.closers = nil
}

// ReconcileOnce runs a single reconciliation pass, including the retention
// sweep.
func (a *App) ReconcileOnce(ctx context.Context) (monitor.PassResult, error) {
	return a.scheduler.RunOnce(ctx)
}

// Serve runs the HTTP server, the scheduler and, in polling mode, the update
// loop until ctx is done.
func (a *App) Serve(ctx context.Context, gatherer prometheus.Gatherer) error {
	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		a.log.Info("Scheduler disabled; use the API or the reconcile command to run passes")
	}

	h := handler.NewHandlers(a.store, a.scheduler, a.bot, a.cfg.Telegram.WebhookSecret, a.log)
	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router.SetupRouter(h, a.cfg.Server, gatherer, a.log),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	if a.cfg.Telegram.Polling {
		a.startPolling(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("Starting HTTP server on port %s", a.cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			a.log.WithError(serveErr).Error("HTTP server error")
		}
	}

	a.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("HTTP server shutdown error: %v", err)
	}
	if a.cfg.Telegram.Polling {
		a.botAPI.StopReceivingUpdates()
	}

	if err := a.scheduler.Stop(); err != nil {
		a.log.Errorf("Failed to stop scheduler: %v", err)
	}
	a.scheduler.Wait()

	a.log.Info("Server stopped gracefully")
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

func (a *App) startPolling(ctx context.Context) {
	// getUpdates is refused while a webhook is registered.
	if _, err := a.botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		a.log.WithError(err).Warn("Failed to remove Telegram webhook")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := a.botAPI.GetUpdatesChan(u)
	go a.bot.Run(ctx, updates)

	a.log.Info("Polling Telegram for updates")
}

// Run initializes and starts the application
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.Log)
	log.Info("Starting Water Order Bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve(ctx, prometheus.DefaultGatherer)
}
