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

	"github.com/maneesh/cloudspace/internal/config"
	"github.com/maneesh/cloudspace/internal/handlers"
	"github.com/maneesh/cloudspace/internal/logging"
	"github.com/maneesh/cloudspace/internal/naming"
	"github.com/maneesh/cloudspace/internal/ratelimit"
	"github.com/maneesh/cloudspace/internal/service"
	"github.com/maneesh/cloudspace/internal/storage"
	"github.com/maneesh/cloudspace/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cloudspace: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogFormat, level)
	slog.SetDefault(logger)

	logger.Info("starting CloudSpace service", "service", cfg.ServiceName, "port", cfg.ServicePort)

	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Options{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("error shutting down tracer", "error", err)
		}
	}()

	// Initialize the metadata store
	logger.Info("connecting to database", "driver", cfg.DBDriver)
	store, err := storage.NewSQLStore(cfg.DBDriver, cfg.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	logger.Info("database initialized")

	// Initialize MinIO client
	logger.Info("connecting to MinIO", "endpoint", cfg.MinIOEndpoint)
	blobs, err := storage.NewMinioClient(ctx, storage.MinioOptions{
		Endpoint:   cfg.MinIOEndpoint,
		AccessKey:  cfg.MinIOAccessKey,
		SecretKey:  cfg.MinIOSecretKey,
		BucketName: cfg.MinIOBucketName,
		UseSSL:     cfg.MinIOUseSSL,
		PublicURL:  cfg.MinIOPublicURL,
		PublicRead: cfg.MinIOPublicBucket,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	logger.Info("MinIO client initialized", "bucket", cfg.MinIOBucketName)

	// Initialize Redis client. The cache is optional: without it every read
	// goes to the database.
	var cache service.Cache = storage.NopCache{}
	if cfg.CacheEnabled {
		redisClient, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			logger.Warn("redis unavailable, caching disabled", "addr", cfg.GetRedisAddr(), "error", err)
		} else {
			defer redisClient.Close()
			cache = redisClient
			logger.Info("Redis client initialized", "addr", cfg.GetRedisAddr())
		}
	}

	// Text record naming
	var labeler naming.Labeler
	if cfg.AnthropicAPIKey != "" {
		anthropicLabeler, err := naming.NewAnthropicLabeler(cfg.AnthropicAPIKey, cfg.NamingModel)
		if err != nil {
			return fmt.Errorf("failed to initialize naming: %w", err)
		}
		labeler = anthropicLabeler
		logger.Info("text naming enabled", "model", cfg.NamingModel)
	} else {
		logger.Info("no ANTHROPIC_API_KEY, text records get date-based names")
	}
	namer := naming.NewAssistant(labeler, logger, naming.WithTimeout(cfg.NamingTimeout))

	policy, err := service.ParseDeletePolicy(cfg.FolderDeletePolicy)
	if err != nil {
		return err
	}

	maxUpload := cfg.GetMaxUploadBytes()

	// Initialize services
	workspaces := service.NewWorkspaceStore(store, cache, logger, service.WorkspaceOptions{
		BcryptCost:       cfg.BcryptCost,
		MaskAccessErrors: cfg.MaskAccessErrors,
	})
	folders := service.NewFolderTree(store, cache, blobs, logger, service.FolderOptions{
		DeletePolicy: policy,
		VerifyParent: cfg.FolderVerifyParent,
	})
	catalog := service.NewContentCatalog(store, blobs, namer, logger, service.CatalogOptions{
		MaxUploadBytes: maxUpload,
	})

	proxies, err := ratelimit.NewProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.AccessRateLimit > 0 {
		limiter = ratelimit.NewLimiter(cfg.AccessRateLimit, time.Minute)
		defer limiter.Close()
	}

	// base64 inflates uploads by a third; leave room for the rest of the JSON
	maxBody := maxUpload*4/3 + 1<<20
	api := handlers.NewAPI(workspaces, folders, catalog, logger, maxBody)

	router := handlers.NewRouter(api, handlers.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     limiter,
		Proxies:     proxies,
	}, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "delete_policy", folders.Policy())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
	return nil
}
