package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/nutricoach/scheduling-api/internal/config"
	"github.com/nutricoach/scheduling-api/internal/handler"
	"github.com/nutricoach/scheduling-api/internal/repository/postgres"
	internalworker "github.com/nutricoach/scheduling-api/internal/worker"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/messaging/redis"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
	"github.com/nutricoach/scheduling-api/pkg/worker"
)

// pingers is ready only when every dependency answers.
type pingers []handler.Pinger

func (p pingers) Ping(ctx context.Context) error {
	for _, pinger := range p {
		if err := pinger.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("the outbox worker needs the postgres driver, got %q", cfg.Database.Driver)
	}

	// Initialize logger
	l := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})
	log.Logger = l.Zerolog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics(reg, cfg.Metrics.Namespace, "worker")

	// Initialize database
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, l, m)
	if err != nil {
		return err
	}
	defer broker.Close()

	// Initialize repositories
	base := postgres.NewBaseRepository(db)
	tx := postgres.NewTransactor(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	processor, err := worker.NewOutboxProcessor(outboxRepo, tx, broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
		ChannelPrefix: cfg.Redis.ChannelPrefix,
	}, l, m)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()

	if cfg.Outbox.Retention > 0 && cfg.Outbox.CleanupInterval > 0 {
		cleanup := internalworker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, l, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cleanup.Start(ctx)
		}()
	}

	// Setup health check endpoints
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler.NewHandler(pingers{tx, broker}, reg).RegisterRoutes(&engine.RouterGroup)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Outbox.HealthPort),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error(err, "Health check server failed")
			stop()
		}
	}()

	l.Info("Worker started", "health_port", cfg.Outbox.HealthPort)
	<-ctx.Done()
	l.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error(err, "Health check server shutdown failed")
	}
	wg.Wait()
	return nil
}
