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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/clinicvoice/scheduler/internal/booking"
	"github.com/clinicvoice/scheduler/internal/clinic"
	"github.com/clinicvoice/scheduler/internal/config"
	"github.com/clinicvoice/scheduler/internal/http/voice"
	"github.com/clinicvoice/scheduler/internal/notify"
	"github.com/clinicvoice/scheduler/internal/session"
	"github.com/clinicvoice/scheduler/internal/syncqueue"
	"github.com/clinicvoice/scheduler/migrations"
	"github.com/clinicvoice/scheduler/pkg/logging"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	defer pool.Close()

	sqlDB := connectSQLDB(pool, logger)
	defer sqlDB.Close()
	runAutoMigrate(sqlDB, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	clinics := clinic.New(pool, redisClient)
	sessions := session.New(redisClient)

	var emailSender notify.EmailSender
	if sender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sender != nil {
		emailSender = sender
	} else {
		logger.Info("sendgrid not configured, using stub email sender")
		emailSender = notify.NewStubEmailSender(logger)
	}
	handoff := booking.NewManualHandoffAdapter(notify.NewSender(emailSender, logger), booking.ManualHandoffConfig{}, logger)

	syncQueue, jobs := connectSyncQueue(ctx, cfg, logger)

	server := voice.New(voice.Config{
		Pool:          pool,
		Clinics:       clinics,
		Sessions:      sessions,
		Logger:        logger,
		Handoff:       handoff,
		SyncQueue:     syncQueue,
		Jobs:          jobs,
		PMSCallLimit:  cfg.PMSCallLimit,
		PMSCallWindow: cfg.PMSCallWindow,
	})

	if jobs != nil {
		worker := syncqueue.NewWorker(syncQueue, jobs, server.SyncRunner(), logger)
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sync-job worker stopped", "error", err)
			}
		}()
	}

	router := server.Router(voice.RouterConfig{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerSec:    cfg.RateLimitPerSec,
		RateLimitBurst:     cfg.RateLimitBurst,
		SyncCacheJWTSecret: cfg.SyncCacheJWTSecret,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func connectPostgresPool(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	if dbURL == "" {
		logger.Error("DATABASE_URL not set")
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")
	return pool
}

// connectSyncQueue wires C4's async sync-job path. UseMemoryQueue runs the
// in-process channel queue used for local dev and tests; otherwise it talks
// to the SQS queue named by SyncQueueURL. Either way, job state lives in
// DynamoDB so a caller can poll GET /sync-cache/{jobId} regardless of which
// queue backend is draining it.
func connectSyncQueue(ctx context.Context, cfg *config.Config, logger *logging.Logger) (syncqueue.Queue, *syncqueue.JobStore) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("sync-queue: failed to load aws config, disabling async sync path", "error", err)
		return nil, nil
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	jobs := syncqueue.NewJobStore(dynamoClient, cfg.SyncJobsTable, logger)

	if cfg.UseMemoryQueue {
		logger.Info("sync-queue: using in-process memory queue")
		return syncqueue.NewMemoryQueue(64), jobs
	}

	if cfg.SyncQueueURL == "" {
		logger.Info("sync-queue: SYNC_QUEUE_URL not set, async sync path disabled")
		return nil, nil
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	logger.Info("sync-queue: using sqs queue", "queue_url", cfg.SyncQueueURL)
	return syncqueue.NewSQSQueue(sqsClient, cfg.SyncQueueURL), jobs
}

func connectSQLDB(pool *pgxpool.Pool, logger *logging.Logger) *sql.DB {
	db := stdlib.OpenDBFromPool(pool)
	logger.Info("sql db wrapper initialized")
	return db
}

func runAutoMigrate(db *sql.DB, logger *logging.Logger) {
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("auto-migrate: failed to open migrations source", "error", err)
		return
	}
	dbDriver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		logger.Error("auto-migrate: failed to create db driver", "error", err)
		return
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Error("auto-migrate: failed to create migrator", "error", err)
		return
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("auto-migrate: migration failed", "error", err)
		return
	}
	logger.Info("auto-migrate: database migrations applied")
}
