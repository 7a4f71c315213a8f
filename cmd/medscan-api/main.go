// Package main provides the medscan API service entry point.
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/api"
	"github.com/medsnap/rxscan/internal/api/handlers"
	"github.com/medsnap/rxscan/internal/config"
	"github.com/medsnap/rxscan/internal/domain/prescription"
	"github.com/medsnap/rxscan/internal/domain/reminder"
	"github.com/medsnap/rxscan/internal/druginfo"
	"github.com/medsnap/rxscan/internal/extraction"
	"github.com/medsnap/rxscan/internal/infrastructure/redpanda"
	"github.com/medsnap/rxscan/internal/notify"
	"github.com/medsnap/rxscan/internal/observability/metrics"
	"github.com/medsnap/rxscan/internal/observability/tracing"
	"github.com/medsnap/rxscan/internal/scan"
	"github.com/medsnap/rxscan/pkg/circuitbreaker"
	"github.com/medsnap/rxscan/pkg/idempotency"
	"github.com/medsnap/rxscan/pkg/workerpool"
)

const serviceName = "medscan-api"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.GeminiAPIKey == "" {
		logger.Fatal("GEMINI_API_KEY is not configured")
	}

	ctx := context.Background()

	// Tracing
	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.Enabled = cfg.TracingEnabled
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	breakers := circuitbreaker.NewManager(logger, m)

	// Scanning
	extractCfg := extraction.DefaultConfig(cfg.GeminiAPIKey)
	extractCfg.Model = cfg.GeminiModel
	extractCfg.Timeout = cfg.ExtractionTimeout
	extractor, err := extraction.NewGeminiExtractor(ctx, extractCfg, logger)
	if err != nil {
		logger.Fatal("extractor init failed", zap.Error(err))
	}
	defer extractor.Close()

	geminiBreaker, err := breakers.GetOrCreate("gemini", circuitbreaker.DefaultConfig("gemini"))
	if err != nil {
		logger.Fatal("breaker init failed", zap.Error(err))
	}

	inbox := idempotency.NewInbox(pool, idempotency.DefaultConfig(), logger)
	inbox.Start()
	defer inbox.Stop()

	scanner := scan.NewService(extractor, logger,
		scan.WithBreaker(geminiBreaker),
		scan.WithInbox(inbox),
		scan.WithObserver(m),
	)

	prescriptions := prescription.NewRepository(pool, logger)

	// Reminders
	var dispatcher reminder.Dispatcher
	checks := map[string]handlers.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	if cfg.KafkaEnabled {
		producerCfg := redpanda.DefaultProducerConfig()
		producerCfg.Brokers = cfg.KafkaBrokers
		producer, err := redpanda.NewProducer(producerCfg, m, logger)
		if err != nil {
			logger.Fatal("producer creation failed", zap.Error(err))
		}
		defer producer.Close()

		dispatcher = notify.NewKafkaDispatcher(producer, redpanda.TopicReminderCommands)
		checks["kafka"] = producer.Ping
		logger.Info("reminders dispatched through Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))
	} else {
		scheduler := notify.NewScheduler(notify.NewLogSender(logger), logger)
		defer scheduler.Stop()

		dispatcher = scheduler
		logger.Info("reminders scheduled in process")
	}

	loc := cfg.Location()
	reminders := reminder.NewService(prescriptions,
		reminder.NewRedisStateStore(rdb, cfg.ReminderStateTTL),
		dispatcher, logger,
		reminder.WithLocation(loc),
		reminder.WithObserver(m),
	)

	// Drug validation
	httpClient := &http.Client{Timeout: 10 * time.Second}
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.ValidationWorkers
	validator, err := druginfo.NewValidator(
		[]druginfo.Source{
			druginfo.NewOpenFDAClient(cfg.OpenFDABaseURL, httpClient),
			druginfo.NewRxNormClient(cfg.RxNormBaseURL, httpClient),
		},
		poolCfg, logger,
		druginfo.WithCache(druginfo.NewRedisCache(rdb, cfg.DrugCacheTTL)),
		druginfo.WithBreakers(breakers),
		druginfo.WithObserver(m),
	)
	if err != nil {
		logger.Fatal("validator init failed", zap.Error(err))
	}
	defer validator.Close()

	router := api.NewRouter(api.Deps{
		Scanner:       scanner,
		Prescriptions: prescriptions,
		Reminders:     handlers.NewReminderHandler(reminders, loc, logger),
		Validator:     validator,
		Health:        handlers.NewHealthHandler(checks, breakers),
		Metrics:       m,
		APIKeys:       cfg.APIKeys,
		ServiceName:   serviceName,
		Logger:        logger,
	})

	// Start server
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Extraction calls can run for most of a minute.
		WriteTimeout: cfg.ExtractionTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	if len(cfg.APIKeys) == 0 {
		logger.Warn("API_KEYS is empty; every authenticated request will be rejected")
	}

	logger.Info("starting medscan API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
	<-done

	logger.Info("server stopped")
}
