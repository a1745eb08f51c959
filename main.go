package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/duelhistory/internal/adapters/cache"
	"github.com/Amund211/duelhistory/internal/adapters/database"
	"github.com/Amund211/duelhistory/internal/adapters/geoguessr"
	"github.com/Amund211/duelhistory/internal/adapters/historyrepository"
	"github.com/Amund211/duelhistory/internal/adapters/kvstore"
	"github.com/Amund211/duelhistory/internal/app"
	"github.com/Amund211/duelhistory/internal/config"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
	"github.com/Amund211/duelhistory/internal/ports"
	"github.com/Amund211/duelhistory/internal/ratelimiting"
	"github.com/Amund211/duelhistory/internal/reporting"
	"github.com/Amund211/duelhistory/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	// Embedded root certificates for minimal container images
	_ "golang.org/x/crypto/x509roots/fallback"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.New().String()
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(baseHandler).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger = slog.New(logging.WithCloudTrace(baseHandler, config.GoogleCloudProject())).With("instanceID", instanceID)
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	shutdownOTel, err := telemetry.SetupOTelSDK(ctx, telemetry.Options{
		ServiceName:      "duelhistory",
		TraceSampleRatio: 0.1,
	})
	if err != nil {
		fail("Failed to initialize OpenTelemetry", "error", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := shutdownOTel(shutdownCtx)
		if err != nil {
			logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
		}
	}()
	logger.Info("Initialized OpenTelemetry")

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	var store kvstore.Store
	if config.IsDevelopment() && config.CloudSQLUnixSocketPath() == "" {
		logger.Info("No database configured, using in-memory store")
		store = kvstore.NewMemoryStore()
	} else {
		logger.Info("Initializing database connection")
		db, err := database.NewCloudsqlPostgresDatabase(config)
		if err != nil {
			fail("Failed to initialize database", "error", err.Error())
		}
		logger.Info("Initialized database connection")

		schemaName := database.GetSchemaName(!config.IsProduction())

		err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, schemaName)
		if err != nil {
			fail("Failed to migrate database", "error", err.Error())
		}

		store = kvstore.NewPostgres(db, schemaName, time.Now)
	}
	historyRepo := historyrepository.NewKV(store)
	logger.Info("Initialized HistoryRepository")

	scheduler, stopScheduler, err := ratelimiting.NewRequestScheduler(time.After)
	if err != nil {
		fail("Failed to initialize request scheduler", "error", err.Error())
	}
	defer stopScheduler()

	httpClient := &http.Client{
		Timeout:   20 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	geoguessrAPI, err := geoguessr.NewAPIOrMock(config, httpClient, scheduler, time.After)
	if err != nil {
		fail("Failed to initialize GeoGuessr API", "error", err.Error())
	}
	logger.Info("Initialized GeoGuessr API")

	historyCache := cache.NewTTLCache[domain.RatingHistory](1 * time.Minute)

	syncLogger := logger.With("component", "syncer")
	syncer, err := app.NewSyncer(
		geoguessrAPI,
		historyRepo,
		app.BuildEnrichGame(geoguessrAPI, config.UserID()),
		app.SyncOptions{
			UserID:      config.UserID(),
			BaseDelay:   config.RequestDelay(),
			FullHistory: config.BackfillFullHistory(),
			LimitDays:   config.BackfillDays(),
			MaxPages:    config.MaxPages(),
		},
		func(ctx context.Context, progress domain.SyncProgress) {
			historyCache.Clear()
			logging.FromContext(ctx).InfoContext(
				ctx, "Sync progress",
				"newGames", progress.NewGames,
				"oldestReached", progress.OldestReached,
			)
		},
		time.Now,
		time.After,
	)
	if err != nil {
		fail("Failed to initialize syncer", "error", err.Error())
	}

	allowedOrigins, err := ports.NewDomainSuffixes(config.AllowedDomains()...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	historyRateLimiter, stopHistoryRateLimiter := ratelimiting.NewTokenBucketRateLimiter(time.Second, 60, time.Now)
	defer stopHistoryRateLimiter()
	syncRateLimiter, stopSyncRateLimiter := ratelimiting.NewTokenBucketRateLimiter(time.Minute, 2, time.Now)
	defer stopSyncRateLimiter()
	syncStatusRateLimiter, stopSyncStatusRateLimiter := ratelimiting.NewTokenBucketRateLimiter(time.Second, 60, time.Now)
	defer stopSyncStatusRateLimiter()

	getRatingHistory := app.BuildGetRatingHistoryWithCache(historyCache, historyRepo, config.UserID())
	getSyncStatus := app.BuildGetSyncStatus(historyRepo, syncer, config.UserID())
	startUpdateCheck := app.BuildStartUpdateCheck(syncer)

	http.HandleFunc(
		"OPTIONS /v1/history",
		ports.BuildCORSHandler(allowedOrigins, http.MethodGet),
	)
	http.HandleFunc(
		"GET /v1/history",
		ports.MakeGetHistoryHandler(
			getRatingHistory,
			ratelimiting.NewRequestBasedRateLimiter(historyRateLimiter, ratelimiting.IPKeyFunc),
			allowedOrigins,
			logger.With("port", "history"),
			sentryMiddleware,
		),
	)

	http.HandleFunc(
		"OPTIONS /v1/sync",
		ports.BuildCORSHandler(allowedOrigins, http.MethodGet, http.MethodPost),
	)
	http.HandleFunc(
		"POST /v1/sync",
		ports.MakeStartSyncHandler(
			startUpdateCheck,
			ratelimiting.NewRequestBasedRateLimiter(syncRateLimiter, ratelimiting.IPKeyFunc),
			allowedOrigins,
			logger.With("port", "startsync"),
			sentryMiddleware,
		),
	)
	http.HandleFunc(
		"GET /v1/sync",
		ports.MakeGetSyncStatusHandler(
			getSyncStatus,
			ratelimiting.NewRequestBasedRateLimiter(syncStatusRateLimiter, ratelimiting.IPKeyFunc),
			allowedOrigins,
			logger.With("port", "syncstatus"),
			sentryMiddleware,
		),
	)

	go app.RunPeriodicSync(
		logging.AddToContext(ctx, syncLogger),
		syncer,
		config.SyncInterval(),
		time.After,
	)

	server := &http.Server{Addr: fmt.Sprintf(":%s", config.Port())}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			logger.Error("Failed to shut down server", "error", err.Error())
		}
	}()

	logger.Info("Init complete")
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("Server shutdown")
	} else {
		fail("Server error", "error", err.Error())
	}
}
