package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/antiquefeed/antiquefeed-backend/api/controllers"
	"github.com/antiquefeed/antiquefeed-backend/api/routes"
	"github.com/antiquefeed/antiquefeed-backend/internal/broadcast"
	"github.com/antiquefeed/antiquefeed-backend/internal/eventlog"
	"github.com/antiquefeed/antiquefeed-backend/internal/livesessions"
	"github.com/antiquefeed/antiquefeed-backend/internal/media"
	"github.com/antiquefeed/antiquefeed-backend/internal/products"
	"github.com/antiquefeed/antiquefeed-backend/internal/reservations"
	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/locks"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
	"github.com/antiquefeed/antiquefeed-backend/pkg/metrics"
	"github.com/antiquefeed/antiquefeed-backend/pkg/migrate"
	"github.com/antiquefeed/antiquefeed-backend/pkg/redis"
	"github.com/antiquefeed/antiquefeed-backend/pkg/storage/gcs"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else {
		logg.Warn(ctx, "redis disabled, running single-instance broadcast")
	}

	sessionMetrics := metrics.NewSessionMetrics(prometheus.DefaultRegisterer)
	keyed := locks.NewKeyedMutex()

	var bridge broadcast.Bridge
	var presence broadcast.PresenceStore
	if redisClient != nil {
		bridge = redisClient
		presence = redisClient
	}
	hub, err := broadcast.NewHub(cfg.Broadcast, logg, sessionMetrics, bridge, presence)
	if err != nil {
		logg.Error(ctx, "failed to create broadcast hub", err)
		os.Exit(1)
	}

	eventService, err := eventlog.NewService(
		eventlog.NewRepository(dbClient.DB()),
		dbClient,
		keyed,
		cfg.EventLog,
		logg,
		sessionMetrics,
	)
	if err != nil {
		logg.Error(ctx, "failed to create event log service", err)
		os.Exit(1)
	}
	eventService.SetSink(func(event *models.SessionEvent) {
		hub.Publish(context.Background(), event)
	})

	sessionRepo := livesessions.NewRepository(dbClient.DB())
	sessionService, err := livesessions.NewService(sessionRepo, dbClient, eventService, hub, logg)
	if err != nil {
		logg.Error(ctx, "failed to create session service", err)
		os.Exit(1)
	}

	productRepo := products.NewRepository(dbClient.DB())
	reservationRepo := reservations.NewRepository(dbClient.DB())
	productService, err := products.NewService(productRepo, sessionRepo, reservationRepo, dbClient, eventService, keyed, cfg.EventLog, logg)
	if err != nil {
		logg.Error(ctx, "failed to create product service", err)
		os.Exit(1)
	}

	reservationService, err := reservations.NewService(
		reservationRepo,
		productRepo,
		sessionRepo,
		dbClient,
		eventService,
		keyed,
		cfg.EventLog,
		logg,
		sessionMetrics,
	)
	if err != nil {
		logg.Error(ctx, "failed to create reservation service", err)
		os.Exit(1)
	}

	healthDeps := map[string]controllers.Pinger{
		"database": dbClient,
	}
	if redisClient != nil {
		healthDeps["redis"] = redisClient
	}

	var mediaService media.Service
	if cfg.Media.BucketName != "" {
		gcsClient, gcsErr := gcs.NewClient(ctx, cfg.Media, cfg.GCP, logg)
		if gcsErr != nil {
			logg.Error(ctx, "failed to bootstrap object storage", gcsErr)
			os.Exit(1)
		}
		healthDeps["storage"] = gcsClient
		mediaService, err = media.NewService(gcsClient, cfg.Media)
		if err != nil {
			logg.Error(ctx, "failed to create media service", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(ctx, "media bucket not configured, upload presigning disabled")
	}

	go func() {
		if err := hub.Run(ctx); err != nil {
			logg.Error(ctx, "broadcast bridge stopped", err)
			stop()
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	startCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(startCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			healthDeps,
			hub,
			eventService,
			sessionService,
			productService,
			reservationService,
			mediaService,
		),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(startCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(startCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(startCtx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}
}
