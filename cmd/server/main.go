package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atomcal/autopilot/config"
	"github.com/atomcal/autopilot/internal/email"
	"github.com/atomcal/autopilot/internal/health"
	"github.com/atomcal/autopilot/internal/infrastructure/hasura"
	ctxlog "github.com/atomcal/autopilot/internal/log"
	"github.com/atomcal/autopilot/internal/metrics"
	"github.com/atomcal/autopilot/internal/reconcile"
	httptransport "github.com/atomcal/autopilot/internal/transport/http"
	"github.com/atomcal/autopilot/internal/transport/http/handler"
	"github.com/atomcal/autopilot/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := hasura.NewClient(hasura.Options{
		GraphURL:    cfg.HasuraGraphURL,
		AdminSecret: cfg.HasuraAdminSecret,
		MetadataURL: cfg.HasuraMetadataURL,
		AuthToken:   cfg.APIAuthToken,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("hasura client: %v", err)
	}

	features, err := hasura.NewFeaturesClient(client, cfg.FeaturesApplyURL)
	if err != nil {
		log.Fatalf("features client: %v", err)
	}

	triggerStore := hasura.NewTriggerStore(client)
	autopilotRepo := hasura.NewAutopilotRepo(client)
	preferenceRepo := hasura.NewPreferenceRepo(client)

	alerts := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)

	autopilotUsecase := usecase.NewAutopilotUsecase(
		triggerStore,
		autopilotRepo,
		preferenceRepo,
		features,
		alerts,
		logger,
		cfg.ScheduleAssistWebhookURL,
		cfg.FeaturesApplyWebhookURL,
		cfg.AlertEmailTo,
	)

	autopilotHandler := handler.NewAutopilotHandler(autopilotUsecase, logger)
	webhookHandler := handler.NewWebhookHandler(autopilotUsecase, logger)

	reconciler, err := reconcile.New(
		autopilotRepo,
		alerts,
		logger,
		cfg.ReconcileCron,
		time.Duration(cfg.StaleGraceMinutes)*time.Minute,
		cfg.AlertEmailTo,
	)
	if err != nil {
		log.Fatalf("reconciler: %v", err)
	}
	go reconciler.Start(ctx)

	metrics.Register()
	checker := health.NewChecker(map[string]health.Pinger{
		"hasura_graphql":  &health.HTTPPinger{URL: cfg.HasuraGraphURL},
		"hasura_metadata": &health.HTTPPinger{URL: cfg.HasuraMetadataURL},
	}, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr: ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, autopilotHandler, webhookHandler,
			[]byte(cfg.JWTSecret), cfg.APIAuthToken),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
