package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"resumatch/internal/ai"
	"resumatch/internal/config"
	"resumatch/internal/database"
	"resumatch/internal/metrics"
	"resumatch/internal/tasks"
	"resumatch/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		log.Fatalf("init ai provider: %v", err)
	}
	log.Printf("ai provider ready: %s", provider.Name())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}, asynq.Config{
		Concurrency: 10,
		// Fixed backoff between attempts of the analysis run.
		RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
			return tasks.AnalysisRetryDelay
		},
	})

	analysisHandler := worker.NewAnalysisTaskHandler(db, provider, redisClient, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeAnalysisRun, analysisHandler)

	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
