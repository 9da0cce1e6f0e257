package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/id"
	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/common/otel"
	"github.com/vitormendes140597/data-engineer-challenge-2024/common/probe"
	"github.com/vitormendes140597/data-engineer-challenge-2024/core/config"
	"github.com/vitormendes140597/data-engineer-challenge-2024/core/db"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/store"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/worker"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/writer"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWriter)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "trips writer starting",
		"env", cfg.Env,
		"stream", cfg.Bus.EventStream,
		"consumer_group", cfg.Bus.EventGroup,
		"consumer_name", cfg.Bus.Consumer,
		"node_id", cfg.NodeID)

	if cfg.Bus.UsesKafka() {
		slog.WarnContext(ctx, "events go to kafka; this writer only drains the redis event stream")
	}

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected and migrated")

	redisOpts, err := redis.ParseURL(cfg.Bus.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.Bus.EventStream,
		Group:        cfg.Bus.EventGroup,
		Consumer:     cfg.Bus.Consumer,
		DLQStream:    cfg.Bus.EventDLQStream,
		BatchSize:    cfg.Writer.BatchSize,
		Block:        cfg.Writer.Block,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	trips := store.NewTripStore(database)
	wr := writer.New(consumer, trips, cfg.Bus.EventStream)

	// stale entries are re-driven one at a time with the usual retry policy
	redrive := worker.New(consumer, wr.HandleOne, worker.Config{
		Name:        "trips.writer.redrive",
		Stream:      cfg.Bus.EventStream,
		MaxAttempts: cfg.Writer.MaxAttempts,
	})
	reclaimer := worker.NewReclaimer(consumer, redrive.Deliver, worker.ReclaimerConfig{
		Name:      "trips.writer.reclaimer",
		MinIdle:   cfg.Writer.ReclaimMinIdle,
		Interval:  cfg.Writer.ReclaimInterval,
		BatchSize: 100,
	})

	health := probe.NewHealth(map[string]probe.Pinger{
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"postgres": database.Ping,
	})
	stopProbes := probe.Serve(ctx, cfg.Health, cfg.Metrics, health)

	errCh := make(chan error, 2)
	go func() {
		errCh <- wr.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "writer running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down writer...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reclaimer.Stop()
	wr.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "writer error during shutdown", "error", err)
		}
	}

	if err := stopProbes(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "probe shutdown error", "error", err)
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "writer shutdown complete")
}

const banner = `
████████╗██████╗ ██╗██████╗ ███████╗
╚══██╔══╝██╔══██╗██║██╔══██╗██╔════╝
   ██║   ██████╔╝██║██████╔╝███████╗
   ██║   ██╔══██╗██║██╔═══╝ ╚════██║
   ██║   ██║  ██║██║██║     ███████║
   ╚═╝   ╚═╝  ╚═╝╚═╝╚═╝     ╚══════╝  writer
`
