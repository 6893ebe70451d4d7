package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/fcpenroll/internal/config"
	"github.com/hamed0406/fcpenroll/internal/enrollment"
	"github.com/hamed0406/fcpenroll/internal/experiment"
	"github.com/hamed0406/fcpenroll/internal/httpapi"
	apimw "github.com/hamed0406/fcpenroll/internal/httpapi/middleware"
	"github.com/hamed0406/fcpenroll/internal/i18n"
	"github.com/hamed0406/fcpenroll/internal/logging"
	"github.com/hamed0406/fcpenroll/internal/notify"
	"github.com/hamed0406/fcpenroll/internal/probe"
	"github.com/hamed0406/fcpenroll/internal/repo"
	"github.com/hamed0406/fcpenroll/internal/repo/memory"
	"github.com/hamed0406/fcpenroll/internal/repo/postgres"
	"github.com/hamed0406/fcpenroll/internal/scheduler"
	"github.com/hamed0406/fcpenroll/internal/telemetry"
)

type stores interface {
	repo.ErrorStore
	repo.ConfirmationStore
}

func main() {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		log.Fatal(err)
	}
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store stores
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("postgres_connect_failed", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("postgres_schema_failed", zap.Error(err))
		}
		store = pg
		logger.Info("store_postgres")
	} else {
		store = memory.New()
		logger.Info("store_memory")
	}

	client, err := probe.NewProgramInfoClient(probe.ClientConfig{
		BaseURL:  cfg.CloudAPIURL,
		Token:    cfg.CloudAPIToken,
		Timeout:  cfg.RequestTimeout,
		Resolver: probe.NewResolver(ctx, 5*time.Minute, logger),
	})
	if err != nil {
		logger.Fatal("program_info_client_failed", zap.Error(err))
	}

	messages := i18n.Default()
	if cfg.MessagesFile != "" {
		if messages, err = i18n.Load(cfg.MessagesFile); err != nil {
			logger.Fatal("messages_load_failed", zap.String("path", cfg.MessagesFile), zap.Error(err))
		}
		if err := i18n.Watch(ctx, messages, cfg.MessagesFile, logger); err != nil {
			logger.Warn("messages_watch_failed", zap.Error(err))
		}
	}

	registry := notify.NewRegistry()
	notifiers := notify.Multi{registry}
	slack := notify.NewSlack(cfg.SlackWebhook)
	if slack != nil {
		notifiers = append(notifiers, slack)
	}

	svc, err := enrollment.NewService(enrollment.Deps{
		Logger:        logger,
		Fetcher:       client,
		Flags:         experiment.NewFlags(cfg.FeatureFlags),
		Notifier:      notifiers,
		Messages:      messages,
		Tracker:       telemetry.Multi{telemetry.LogTracker{Logger: logger}, telemetry.StoreTracker{Store: store}},
		Confirmations: store,
		Poll:          probe.PollConfig{Interval: cfg.PollInterval, MaxTimeout: cfg.PollTimeout},
		StatusTTL:     cfg.StatusCacheTTL,
	})
	if err != nil {
		logger.Fatal("enrollment_service_failed", zap.Error(err))
	}

	refresher := scheduler.NewRefresher(logger, svc, cfg.RefreshInterval, cfg.RequestTimeout, cfg.RefreshConcurrency)
	go refresher.Run(ctx)

	if slack != nil {
		alerter := scheduler.NewAlerter(store, slack, logger, scheduler.AlerterConfig{
			Threshold:    cfg.AlertThreshold,
			Cooldown:     cfg.AlertCooldown,
			PollInterval: cfg.AlertInterval,
		})
		go func() {
			if err := alerter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("alerter_stopped", zap.Error(err))
			}
		}()
	}

	api := httpapi.NewServer(logger, svc, registry, store)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.String("cloud_api", client.BaseURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api_listen_failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("api_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PollTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_error", zap.Error(err))
	}
	// let detached confirmations deliver their notifications
	svc.Wait()
}
