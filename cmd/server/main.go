package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"tracking/internal/app"
	"tracking/internal/auth"
	"tracking/internal/broker"
	"tracking/internal/config"
	"tracking/internal/handler"
	"tracking/internal/logger"
	"tracking/internal/metrics"
	"tracking/internal/realtime"
	internalRedis "tracking/internal/redis"
	"tracking/internal/repository/postgres"
	"tracking/internal/routing"
	"tracking/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	log := logger.New(cfg.Log.Level)
	metrics.Register()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Error("failed to initialize New Relic", err)
		} else {
			log.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Error("failed to connect to database", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Error("failed to connect to redis", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	var publisher service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbit, err := broker.NewRabbitMQ(runCtx, cfg.RabbitMQ, log)
		if err != nil {
			log.Error("failed to connect to RabbitMQ, notifications will not be published", err)
		} else {
			defer rabbit.Close()
			publisher = rabbit
			log.Info("connected to RabbitMQ", "exchange", cfg.RabbitMQ.Exchange)
		}
	}

	engine := realtime.NewEngine(cfg.Tracking.IdleTTL, log)
	go engine.Run(runCtx, cfg.Tracking.SweepInterval)

	server := wireServer(db, redisClient, nrApp, publisher, engine, cfg, log)

	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", err)
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	publisher service.Publisher,
	engine *realtime.Engine,
	cfg *config.Config,
	log logger.Logger,
) *http.Server {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	// Initialize repositories.
	orderRepo := postgres.NewOrderRepository(db)
	trackingRepo := postgres.NewTrackingLogRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	var verifier auth.TokenVerifier = auth.AllowAll{}
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	} else {
		log.Warn("JWT_SECRET not set, connect tokens are not verified")
	}

	// Initialize services.
	routingClient := routing.NewDistanceMatrixClient(cfg.Routing, &http.Client{
		Transport: newrelic.NewRoundTripper(&http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		}),
	})
	etaService := service.NewETAService(orderRepo, cacheStore, routingClient, service.ETAConfig{
		FallbackSpeedKmh: cfg.Tracking.FallbackSpeedKmh,
		Timeout:          cfg.Routing.Timeout,
	}, log)
	notificationService := service.NewNotificationService(notificationRepo, publisher, log)
	statusService := service.NewStatusService(engine, orderRepo, cacheStore, lockStore, notificationService, cfg.Tracking.LockTTL, log)
	ownership := service.OrderOwnership{}
	trackingService := service.NewTrackingService(engine, orderRepo, cacheStore, trackingRepo, etaService, statusService, ownership, locationStore, service.TrackingConfig{
		NearbyThresholdKm:  cfg.Tracking.NearbyThresholdKm,
		HistoryMaxPageSize: cfg.Tracking.HistoryMaxPageSize,
	}, log)
	sessionService := service.NewSessionService(engine, orderRepo, cacheStore, locationStore, verifier, log)
	subscriptionService := service.NewSubscriptionService(engine, orderRepo, cacheStore, ownership, locationStore, log)

	// Initialize handlers.
	realtimeHandler := handler.NewRealtimeHandler(engine, sessionService, subscriptionService, trackingService, statusService, cfg.Tracking, nrApp, log)
	trackingHandler := handler.NewTrackingHandler(trackingService, statusService, engine)

	router := app.NewRouter(app.RouterDeps{
		RealtimeHandler: realtimeHandler,
		TrackingHandler: trackingHandler,
		RedisClient:     redisClient,
		NewRelicApp:     nrApp,
	})

	// Create HTTP server. Upgraded connections reset these deadlines per frame.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
