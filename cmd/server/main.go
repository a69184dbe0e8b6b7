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

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/agentledger/internal/config"
	"github.com/ruralpay/agentledger/internal/database"
	"github.com/ruralpay/agentledger/internal/handlers"
	"github.com/ruralpay/agentledger/internal/lock"
	"github.com/ruralpay/agentledger/internal/logging"
	mW "github.com/ruralpay/agentledger/internal/middleware"
	"github.com/ruralpay/agentledger/internal/notify"
	"github.com/ruralpay/agentledger/internal/services"
	"github.com/ruralpay/agentledger/internal/store"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	// Initialize config
	if err := config.Load(); err != nil {
		log.Printf("Config file not found, using environment: %v", err)
	}

	logger, err := logging.New(viper.GetString("logging.environment"), viper.GetString("logging.level"))
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg := config.LoadLedgerConfig()
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Storage
	var st store.Store
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store; balances are lost on restart")
		st = store.NewMemoryStore()
	default:
		db, err := database.InitDB(startCtx, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(startCtx); err != nil {
			return err
		}
		st = pg
	}

	// Redis backs the distributed locker and the notification channels.
	var redisClient *redis.Client
	if cfg.Locker == "redis" || viper.GetString("redis.host") != "" {
		client, err := database.InitRedis(startCtx, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
	}

	var locker lock.Locker
	if cfg.Locker == "redis" {
		locker = lock.NewRedisLocker(redisClient, cfg.LockTTL, cfg.LockRetry, logger)
	} else {
		logger.Warn("using in-process locker; run a single instance only")
		locker = lock.NewMemoryLocker()
	}

	// Notification sinks
	sink := notify.NewLogSink(logger)
	var notifier notify.Notifier = sink
	var broadcaster notify.Broadcaster = sink
	var texts notify.TextSender = sink
	if redisClient != nil {
		notifier = notify.NewRedisNotifier(redisClient)
		broadcaster = notify.NewRedisBroadcaster(redisClient)
	}
	if url := viper.GetString("sms.gateway_url"); url != "" {
		texts = notify.NewHTTPTextSender(notify.SMSConfig{
			GatewayURL: url,
			APIKey:     viper.GetString("sms.api_key"),
			SenderID:   viper.GetString("sms.sender_id"),
			Timeout:    viper.GetDuration("sms.timeout"),
		}, logger)
	}

	dispatcher := services.NewDispatcher(notifier, texts, broadcaster,
		cfg.NotifyQueue, cfg.NotifyWorkers, cfg.NotifyTimeout, logger)
	dispatcher.Start()

	// Initialize services
	commissions := services.NewCommissionService(st, logger)
	journal := services.NewJournal(st, logger)
	ledger := services.NewLedgerService(st, locker, commissions, journal, dispatcher, cfg.LockWait, logger)
	ledger.SetIntentLease(cfg.LockTTL + cfg.LockWait)
	pushes := services.NewStatePushService(ledger)
	withdrawals := services.NewWithdrawalService(ledger)

	if cfg.ReconcileOnRun {
		n, err := ledger.Reconcile(startCtx)
		if err != nil {
			return err
		}
		logger.Info("journal reconciled", zap.Int("intents", n))
	}
	if cfg.BootstrapAdminID != "" {
		if err := ledger.Bootstrap(startCtx, cfg.BootstrapAdminID, cfg.BootstrapAdminName); err != nil {
			return err
		}
	}

	secret := viper.GetString("jwt.secret_key")
	if secret == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Ledger:         ledger,
		Commissions:    commissions,
		StatePushes:    pushes,
		Withdrawals:    withdrawals,
		Auth:           mW.NewAuthenticator(secret),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	port := viper.GetString("server.port")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := dispatcher.Stop(ctx); err != nil {
		logger.Warn("notification queue not drained", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
