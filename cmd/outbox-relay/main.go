// Command outbox-relay publishes committed prescription events from the
// outbox table to Redpanda and moves exhausted entries to the dead letter
// topic.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/config"
	"github.com/medsnap/rxscan/internal/infrastructure/postgres"
	"github.com/medsnap/rxscan/internal/infrastructure/redpanda"
	"github.com/medsnap/rxscan/internal/observability/metrics"
)

const maintenanceInterval = time.Minute

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	m := metrics.New(prometheus.DefaultRegisterer)

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := admin.EnsureTopics(setupCtx); err != nil {
		logger.Fatal("topic setup failed", zap.Error(err))
	}
	cancel()
	admin.Close()

	// Create Redpanda producer
	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	outboxCfg := postgres.DefaultRelayConfig()
	outboxCfg.BatchSize = cfg.OutboxBatchSize
	outboxCfg.PollInterval = cfg.OutboxPollInterval
	relay := postgres.NewRelay(pool, producer, outboxCfg, logger)
	relay.SetObserver(m)

	relay.Start()

	metricsServer := &http.Server{Addr: ":" + cfg.Port, Handler: m.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	maintCtx, stopMaint := context.WithCancel(ctx)
	maintDone := make(chan struct{})
	go func() {
		defer close(maintDone)
		maintain(maintCtx, relay, logger)
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	stopMaint()
	<-maintDone
	relay.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = metricsServer.Shutdown(shutdownCtx)

	stats := producer.Stats()
	logger.Info("shutdown complete",
		zap.Int64("published", stats.MessagesSent),
		zap.Int64("publish_errors", stats.ErrorCount))
}

// maintain moves exhausted entries to the dead letter topic, prunes old
// processed rows and refreshes the backlog gauge.
func maintain(ctx context.Context, relay *postgres.Relay, logger *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := relay.MoveToDeadLetter(ctx); err != nil {
			logger.Error("dead letter pass failed", zap.Error(err))
		} else if n > 0 {
			logger.Warn("moved outbox entries to dead letter", zap.Int64("count", n))
		}

		if n, err := relay.CleanupProcessed(ctx); err != nil {
			logger.Error("outbox cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("pruned processed outbox entries", zap.Int64("count", n))
		}

		if stats, err := relay.Stats(ctx); err != nil {
			logger.Error("outbox stats failed", zap.Error(err))
		} else {
			logger.Debug("outbox stats",
				zap.Int64("pending", stats.Pending),
				zap.Int64("exhausted", stats.Exhausted))
		}
	}
}
