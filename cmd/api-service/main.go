package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/scoutbase/scraperd/internal/api/handler"
	"github.com/scoutbase/scraperd/internal/api/router"
	"github.com/scoutbase/scraperd/internal/config"
	"github.com/scoutbase/scraperd/internal/scrape/batch"
	"github.com/scoutbase/scraperd/internal/scrape/continuation"
	"github.com/scoutbase/scraperd/internal/scrape/extract"
	"github.com/scoutbase/scraperd/internal/scrape/logbuf"
	"github.com/scoutbase/scraperd/internal/scrape/logrelay"
	"github.com/scoutbase/scraperd/internal/scrape/storage"
	"github.com/scoutbase/scraperd/internal/scrape/throttle"
	"github.com/scoutbase/scraperd/shared/logger"
	"github.com/scoutbase/scraperd/shared/postgresql"
	"github.com/scoutbase/scraperd/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Separate connection for the log relay: an exclusive fanout queue that
	// receives the worker's per-job log lines.
	logsClient, err := initLogsRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize log relay: %w", err)
	}

	// Wire the scrape services. The API shares the log buffer service with
	// its SSE streams and uses the scheduler only to enqueue the first hop.
	store := storage.New(dbClient, appLogger.Logger)
	logs := logbuf.New(cfg.Scrape.LogTTL, appLogger.Logger)
	extractor := extract.New(extract.Config{
		UserAgent:    cfg.Scrape.UserAgent,
		Timeout:      cfg.Scrape.FetchTimeout,
		BlockMarkers: cfg.Scrape.BlockMarkers,
	}, nil, appLogger.Logger)
	throttler := throttle.New(throttle.Config{
		BaseDelay:          cfg.Scrape.BaseDelay,
		SlowModeThreshold:  cfg.Scrape.SlowModeThreshold,
		SlowModeMultiplier: cfg.Scrape.SlowModeMultiplier,
		EscalationFactor:   cfg.Scrape.EscalationFactor,
	})
	processor := batch.New(store, extractor, throttler, logs, appLogger.Logger)
	scheduler := continuation.New(store, processor, rabbitClient, logs, cfg.Scrape.BatchPause, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, store, scheduler, logs, extractor)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return logs.RunJanitor(gCtx, cfg.Scrape.LogEvictInterval)
	})

	g.Go(func() error {
		deliveries, err := logsClient.Consume("log-relay")
		if err != nil {
			return fmt.Errorf("log relay consume: %w", err)
		}
		return logrelay.NewConsumer(deliveries, logs, appLogger.Logger).Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()

		appLogger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	err = g.Wait()

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		if logsClient != nil {
			logsClient.Close()
		}
	}
	defer cleanup()

	if err != nil && err != context.Canceled {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initLogsRabbitMQ initializes the consumer side of the log relay fanout
func initLogsRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	logsConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Logs.Exchange.Name,
		ExchangeType:       cfg.Logs.Exchange.Type,
		ExchangeDurable:    cfg.Logs.Exchange.Durable,
		ExchangeAutoDelete: cfg.Logs.Exchange.AutoDelete,
		QueueName:          cfg.Logs.Queue.Name,
		QueueDurable:       cfg.Logs.Queue.Durable,
		QueueAutoDelete:    cfg.Logs.Queue.AutoDelete,
		QueueExclusive:     cfg.Logs.Queue.Exclusive,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(logsConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	store *storage.Storage,
	scheduler *continuation.Scheduler,
	logs *logbuf.Service,
	extractor *extract.Extractor,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:           logger,
		Store:            store,
		Scheduler:        scheduler,
		Logs:             logs,
		Extractor:        extractor,
		DefaultBatchSize: cfg.Scrape.DefaultBatchSize,
		MaxBatchSize:     cfg.Scrape.MaxBatchSize,
		LogDoneGrace:     cfg.Scrape.LogDoneGrace,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
