package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iap-entitlement-api/internal/backend/sandbox"
	"iap-entitlement-api/internal/billing"
	"iap-entitlement-api/internal/cache"
	"iap-entitlement-api/internal/config"
	"iap-entitlement-api/internal/handler"
	"iap-entitlement-api/internal/logging"
	"iap-entitlement-api/internal/middleware"
	"iap-entitlement-api/internal/notify"
	"iap-entitlement-api/internal/repository"
	"iap-entitlement-api/internal/router"
	"iap-entitlement-api/internal/service"

	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	logging.Init(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	log.Info().Str("environment", cfg.App.Environment).Str("version", cfg.App.Version).Msg("Starting IAP entitlement API")

	// Initialize the catalog/purchase store based on config
	var store repository.StoreRepository
	switch cfg.Store.Type {
	case "postgres", "postgresql":
		pgRepo, err := repository.NewPostgresStoreRepository(cfg.Store.PostgresDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize PostgreSQL")
		}
		store = pgRepo
		log.Info().Msg("PostgreSQL store initialized")
	default: // sqlite
		sqliteRepo, err := repository.NewSQLiteStoreRepository(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize SQLite")
		}
		store = sqliteRepo
		log.Info().Str("path", cfg.Store.Path).Msg("SQLite store initialized")
	}
	defer store.Close()

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	seeded, err := repository.SeedCatalog(seedCtx, store, cfg.Store.CatalogPath)
	seedCancel()
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.CatalogPath).Msg("Failed to seed catalog")
	}
	if seeded > 0 {
		log.Info().Int("products", seeded).Msg("Catalog seeded")
	}

	// Initialize MySQL key store (optional)
	keys := &service.KeyResolver{
		PackageName: cfg.Billing.PackageName,
		ParamKey:    cfg.Billing.KeyParam,
		Key:         cfg.Billing.Key,
	}
	if cfg.KeyDB.Enabled {
		mysqlDB, err := repository.OpenMySQL(cfg.KeyDB.DSN(), 10, 5, 5*time.Minute)
		if err != nil {
			log.Warn().Err(err).Msg("MySQL key store unavailable")
		} else {
			defer mysqlDB.Close()
			keys.Store = repository.NewMySQLKeyRepository(mysqlDB)
			log.Info().Msg("MySQL key store initialized")
		}
	}

	if cfg.Billing.VerifyReceipts {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		key, err := keys.VerificationKey(ctx)
		cancel()
		if err == nil {
			err = billing.ValidateKey(key)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Receipt verification is enabled but no usable verification key is configured")
		}
	}

	// Initialize the callback cache
	var callbackCache cache.Cache
	health := handler.New(cfg.App.Version)
	health.AddCheck("store", store.Ping)
	switch cfg.Cache.Type {
	case "redis":
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.RedisPrefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis cache")
		}
		health.AddCheck("redis", redisCache.Ping)
		callbackCache = redisCache
		log.Info().Str("addr", cfg.Cache.RedisAddress()).Msg("Redis callback cache initialized")
	default:
		callbackCache = cache.NewMemoryCache(cfg.Cache.CleanupInterval)
		log.Info().Msg("In-memory callback cache initialized")
	}
	defer callbackCache.Close()

	callbacks := notify.NewCacheNotifier(callbackCache, cfg.Cache.CallbackTTL)
	notifier := notify.Notifier(callbacks)

	// Initialize the notification audit log (optional)
	var auditRepo *repository.MongoDBNotificationRepository
	var audit *notify.AuditNotifier
	if cfg.AuditLog.AuditEnabled() {
		auditRepo, err = repository.NewMongoDBNotificationRepository(
			cfg.AuditLog.MongoURI,
			cfg.AuditLog.MongoDatabase,
			cfg.AuditLog.MongoCollection,
		)
		if err != nil {
			log.Warn().Err(err).Msg("Notification audit log unavailable")
			auditRepo = nil
		} else {
			audit = notify.NewAuditNotifier(auditRepo)
			notifier = notify.Multi(callbacks, audit)
		}
	}

	sb := sandbox.New(store, sandbox.Options{
		PackageName:   cfg.Billing.PackageName,
		Subscriptions: cfg.Billing.Subscriptions,
	})

	client, err := billing.New(billing.Options{
		Backend:  sb,
		Launcher: sb,
		Notifier: notifier,
		Keys:     keys,
		Debug:    cfg.Billing.Debug,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create billing client")
	}

	scheduler := service.NewRefreshScheduler(client, service.RefreshConfig{
		Interval: cfg.Billing.RefreshInterval,
		Timeout:  cfg.Billing.RefreshTimeout,
	})
	scheduler.Start()

	// Initialize handlers
	adminOpts := handler.AdminOptions{
		Client:    client,
		Store:     store,
		StoreType: cfg.Store.Type,
		CacheType: cfg.Cache.Type,
	}
	var logHandler *handler.LogHandler
	if audit != nil {
		adminOpts.Audit = audit
		logHandler = handler.NewLogHandler(auditRepo)
	} else {
		logHandler = handler.NewLogHandler(nil)
	}

	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		APIKeys:     cfg.App.APIKeys,
		PublicPaths: middleware.DefaultPublicPaths,
	})
	if len(cfg.App.APIKeys) == 0 {
		log.Warn().Msg("API_KEYS is empty, authentication is disabled")
	}

	// Create router
	r := router.New(router.Config{
		Handler:         health,
		BillingHandler:  handler.NewBillingHandler(client, callbacks),
		CallbackHandler: handler.NewCallbackHandler(callbacks, cfg.Billing.MaxWait),
		SandboxHandler:  handler.NewSandboxHandler(sb),
		AdminHandler:    handler.NewAdminHandler(adminOpts),
		LogHandler:      logHandler,
		AuthMiddleware:  authMiddleware,
		CORSOrigins:     cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Address()).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Stop background work before the stores close
	scheduler.Stop()
	client.Close()
	if audit != nil {
		audit.Close()
	}
	if auditRepo != nil {
		auditRepo.Close()
	}

	log.Info().Msg("Server stopped")
	fmt.Println("Goodbye!")
}
