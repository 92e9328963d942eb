package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/infra/geoip"
	"server/internal/jobs"
	"server/internal/middleware"
	"server/internal/pipeline"
	"server/internal/poster"
	"server/internal/providers/faceswap"
	"server/internal/retry"
	"server/internal/session"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	sessions := session.NewManager(repo.NewSessionRepository(dbpool), session.Options{
		TTL:           cfg.SessionTTL,
		WarnThreshold: cfg.SessionWarnThreshold,
		Debounce:      cfg.ActivityDebounce,
		SweepCadence:  cfg.SweepCadence,
		Logger:        &logger,
	})
	if err := sessions.StartSweeper(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start session sweeper")
	}
	defer sessions.StopSweeper()

	jobRepo := repo.NewJobRepository(dbpool)
	policy := retry.NewPolicy(cfg.MaxRetries, cfg.RetryWaitBase, cfg.RetryWaitMax, cfg.RetryTimeoutIncrement, cfg.RetryableStatuses)

	apiKey := strings.TrimSpace(cfg.FaceSwapAPIKey)
	if apiKey == "" {
		credStore := credentials.NewStore(infra.NewSQLRunner(dbpool, logger))
		keyFromStore, err := credStore.FaceSwapAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load face swap api key from store")
		} else {
			apiKey = keyFromStore
		}
	}

	client := faceswap.NewClient(faceswap.Options{
		APIKey:     apiKey,
		BaseURL:    cfg.FaceSwapBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Timeout:    cfg.RequestTimeout,
		Logger:     &logger,
	})

	poller := jobs.NewPoller(client, policy, jobRepo, jobs.Options{
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxPollAttempts,
		CallTimeout:  cfg.RequestTimeout,
		Logger:       &logger,
	})

	catalog := poster.NewCatalog()
	orch := pipeline.NewOrchestrator(sessions, catalog, client, poller, jobRepo, store, policy, pipeline.Options{
		Logger: &logger,
	})

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		if closer, ok := resolver.(*geoip.Resolver); ok {
			defer closer.Close()
		}
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		Sessions:       sessions,
		Runner:         orch,
		Jobs:           jobRepo,
		Catalog:        catalog,
		Store:          store,
		StorageBaseURL: cfg.StorageBaseURL,
		Logger:         logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CountryLookup:   lookup,
		DefaultLocale:   "en",
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
