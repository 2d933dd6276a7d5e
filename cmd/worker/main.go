// Command worker consumes evaluation tasks and runs the scoring pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/ai/openrouter"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/lock"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/observability"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/config"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/evaluation"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/rubric"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	appRepo := postgres.NewApplicationRepo(pool)
	evalRepo := postgres.NewEvaluationRepo(pool)

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = producer.Close() }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	guard := lock.NewRedisGuard(rdb, cfg.EvalGuardTTL)

	catalog, err := rubric.Load()
	if err != nil {
		slog.Error("rubric catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("rubric catalog loaded",
		slog.Int("rubrics", catalog.Len()),
		slog.Int("version", catalog.Version()))

	initial, maxInterval := cfg.EvalBackoff()
	orchCfg := evaluation.OrchestratorConfig{
		MaxConcurrent:    cfg.EvalMaxConcurrent,
		MaxAttempts:      uint64(cfg.EvalMaxAttempts),
		InitialBackoff:   initial,
		MaxBackoff:       maxInterval,
		CallTimeout:      cfg.EvalCallTimeout,
		MinAnswerChars:   cfg.EvalMinAnswerChars,
		SuccessThreshold: cfg.EvalSuccessThreshold,
		MaxAnswerTokens:  cfg.EvalMaxAnswerTokens,
	}
	aiClient := openrouter.New(cfg)
	orch := evaluation.NewOrchestrator(aiClient, catalog, rubric.NewResolver(catalog), orchCfg)
	svc := evaluation.NewService(appRepo, evalRepo, producer, guard, orch, cfg.EvalCountFailedScores)

	handler := func(ctx context.Context, payload domain.EvaluateTaskPayload) error {
		_, err := svc.Run(ctx, payload.ApplicationID, payload.Reevaluate)
		if errors.Is(err, domain.ErrBatchFailed) {
			// Terminal: the application is marked failed; do not redeliver.
			return nil
		}
		return err
	}

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.ConsumerMaxConcurrency, handler)
	if err != nil {
		slog.Error("redpanda consumer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = consumer.Close() }()

	slog.Info("worker starting",
		slog.String("consumer_group", cfg.ConsumerGroup),
		slog.Int("max_concurrency", cfg.ConsumerMaxConcurrency))
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker shut down")
}
