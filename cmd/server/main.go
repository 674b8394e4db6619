package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/address"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/auth"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/config"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/events/logsink"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/handler"
	interfaces "github.com/sheikh-saqib/derived-accounts-ledger/internal/interfaces"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/ledger"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/lock/local"
	redislock "github.com/sheikh-saqib/derived-accounts-ledger/internal/lock/redis"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/logging"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/transfer"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	programID, err := models.ParsePublicKey(cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("PROGRAM_ID: %w", err)
	}
	deriver, err := address.NewDeriver(programID, cfg.AccountLabel)
	if err != nil {
		return fmt.Errorf("ACCOUNT_LABEL: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		locker interfaces.AccountLocker = local.NewLocker()
		nonces auth.NonceStore          = auth.NewMemoryNonceStore()
	)
	if cfg.LockDriver == config.LockRedis {
		client, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = redislock.NewLocker(client, redislock.DefaultLockOptions(), logger)
		nonces = auth.NewRedisNonceStore(client)
		logger.Info("using redis account locks and signature nonces", zap.String("addr", cfg.RedisAddr))
	}

	var publisher interfaces.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	} else {
		publisher = logsink.NewPublisher(logger)
		logger.Info("no kafka brokers configured, events go to the log")
	}

	ledgerService := ledger.NewLedger(
		store,
		locker,
		deriver,
		transfer.NewExecutor(logger),
		publisher,
		logger,
		ledger.WithAirdrop(cfg.AirdropEnabled),
	)
	authenticator := auth.NewAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer,
		auth.WithNonceStore(nonces),
		auth.WithMaxSkew(cfg.SignatureMaxSkew),
	)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.RequestIDMiddleware())
	r.Use(handler.LoggingMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(handler.AuthMiddleware(authenticator))
	handler.NewAccountHandler(ledgerService, logger).Register(v1)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.Stringer("program_id", programID),
			zap.String("label", cfg.AccountLabel),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (interfaces.LedgerStore, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Info("using in-memory store")
		return memory.NewMemoryLedgerStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	store := postgres.NewPostgresLedgerStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("connected to postgres")
	return store, func() { db.Close() }, nil
}

func openRedis(ctx context.Context, cfg config.Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
