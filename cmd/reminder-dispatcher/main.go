// Package main provides the reminder dispatcher entry point.
// It consumes reminder commands and fires notifications at their slot time.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/config"
	"github.com/medsnap/rxscan/internal/infrastructure/redpanda"
	"github.com/medsnap/rxscan/internal/notify"
	"github.com/medsnap/rxscan/internal/observability/metrics"
)

const lagInterval = 30 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	m := metrics.New(prometheus.DefaultRegisterer)

	scheduler := notify.NewScheduler(notify.NewLogSender(logger), logger)

	// Commands are applied in partition order. A command that cannot be
	// applied will never succeed, so it is logged and committed.
	handler := func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		if err := notify.Apply(ctx, scheduler, msg.Value); err != nil {
			logger.Error("dropping reminder command",
				zap.String("key", string(msg.Key)),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
		return nil
	}

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.KafkaGroupID

	consumer, err := redpanda.NewConsumer(consumerCfg, handler, m, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()

	consumer.Start()
	logger.Info("reminder dispatcher started",
		zap.Strings("topics", consumerCfg.Topics),
		zap.String("group", consumerCfg.GroupID))

	metricsServer := &http.Server{Addr: ":" + cfg.Port, Handler: m.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	lagCtx, stopLag := context.WithCancel(context.Background())
	go reportLag(lagCtx, admin, consumerCfg.GroupID, logger)

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	stopLag()
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(ctx)

	stats := consumer.Stats()
	logger.Info("reminder dispatcher stopped",
		zap.Int64("messages_read", stats.MessagesRead),
		zap.Int64("errors", stats.ErrorCount))
}

func reportLag(ctx context.Context, admin *redpanda.Admin, group string, logger *zap.Logger) {
	ticker := time.NewTicker(lagInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lag, err := admin.GroupLag(ctx, group)
			if err != nil {
				logger.Warn("group lag lookup failed", zap.Error(err))
				continue
			}
			logger.Debug("consumer group lag", zap.String("group", group), zap.Int64("lag", lag))
		}
	}
}
