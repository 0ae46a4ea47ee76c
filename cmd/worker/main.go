package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taggov/engine/internal/analytics"
	"github.com/taggov/engine/internal/audit"
	"github.com/taggov/engine/internal/compliance"
	"github.com/taggov/engine/internal/config"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/logger"
	"github.com/taggov/engine/internal/queue"
	"github.com/taggov/engine/internal/workers"
	"go.uber.org/zap"
)

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if flag is set
	debugMode := cfg.WorkerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if syncErr := zapLogger.Sync(); syncErr != nil {
			// Ignore sync errors in production
			_ = syncErr
		}
	}()

	zapLogger.Info("starting_worker",
		zap.Bool("debug_mode", debugMode),
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	// Initialize database connection
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_database")

	// Initialize repositories
	eventRepo := database.NewAuditEventRepository(db)
	taggingRepo := database.NewTaggingRepository(db)
	ruleRepo := database.NewComplianceRuleRepository(db)
	violationRepo := database.NewComplianceViolationRepository(db)
	metricRepo := database.NewUsageMetricRepository(db)
	checkpointRepo := database.NewCheckpointRepository(db)
	settingsRepo := database.NewOrgSettingsRepository(db)

	// Report cache, used here for invalidation as metrics change
	reportCache, err := analytics.NewCache(cfg.RedisURL, time.Duration(cfg.CacheTTLSeconds)*time.Second, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_create_report_cache", zap.Error(err))
	}
	defer func() {
		if err := reportCache.Close(); err != nil {
			zapLogger.Warn("failed_to_close_report_cache", zap.Error(err))
		}
	}()

	// Initialize RabbitMQ queue
	noticeQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
	}
	defer func() {
		if err := noticeQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_rabbitmq")

	// The worker only reads the log; it never appends or notifies.
	auditLog := audit.NewLog(eventRepo, db, nil, zapLogger)

	complianceEngine := compliance.NewEngine(ruleRepo, violationRepo, zapLogger)
	aggregator := analytics.NewAggregator(metricRepo, taggingRepo, settingsRepo, reportCache, zapLogger)

	tailer := workers.NewLogTailer(auditLog, checkpointRepo, []workers.EventConsumer{
		complianceEngine,
		aggregator,
	}, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start consuming messages
	msgChan, errChan, err := noticeQueue.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("failed_to_start_consuming", zap.Error(err))
	}

	zapLogger.Info("worker_started")

	// Process notifications
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					zapLogger.Info("message_channel_closed")
					return
				}

				if err := tailer.ProcessNotice(ctx, msg); err != nil {
					zapLogger.Error("failed_to_process_notice",
						zap.Error(err),
					)
				}
			}
		}
	}()

	// Handle errors
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errChan:
				if !ok {
					return
				}
				zapLogger.Error("queue_error", zap.Error(err))
			}
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	zapLogger.Info("shutdown_signal_received")

	// Cancel context to stop processing
	cancel()

	zapLogger.Info("worker_stopped")
}
