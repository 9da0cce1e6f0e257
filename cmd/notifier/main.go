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

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/common/otel"
	"github.com/vitormendes140597/data-engineer-challenge-2024/common/probe"
	"github.com/vitormendes140597/data-engineer-challenge-2024/core/config"
	"github.com/vitormendes140597/data-engineer-challenge-2024/core/db"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/notify"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/reconcile"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/store"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeNotifier)
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

	slog.InfoContext(ctx, "trips notifier starting",
		"env", cfg.Env,
		"stream", cfg.Bus.StatusStream,
		"consumer_group", cfg.Bus.StatusGroup,
		"consumer_name", cfg.Bus.Consumer,
		"slack", cfg.Slack.Enabled())

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

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
		Stream:       cfg.Bus.StatusStream,
		Group:        cfg.Bus.StatusGroup,
		Consumer:     cfg.Bus.Consumer,
		DLQStream:    cfg.Bus.StatusDLQStream,
		BatchSize:    cfg.Status.BatchSize,
		Block:        cfg.Status.Block,
		RequeueDelay: cfg.Status.RedeliveryDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	var notifier reconcile.Notifier = notify.Log{}
	if cfg.Slack.Enabled() {
		notifier = notify.NewSlack(cfg.Slack.Webhook, cfg.Slack.Channel, cfg.Slack.Username)
	}

	ledger := store.NewRedisLedger(redisClient, cfg.Status.LedgerTTL)
	dispatcher := reconcile.NewDispatcher(
		ledger,
		notifier,
		queue.NewRedisStatusProducer(redisClient, cfg.Bus.StatusStream),
		queue.NewReviewSink(redisClient, cfg.Bus.StatusDLQStream, cfg.Status.LedgerTTL),
	)
	reconciler := reconcile.NewReconciler(store.NewCountStore(database.Pool()), ledger, dispatcher, reconcile.Config{
		MaxAttempts: cfg.Status.MaxAttempts,
		MaxAge:      cfg.Status.MaxAge,
	})

	w := worker.New(consumer, reconciler.HandleMessage, worker.Config{
		Name:        "trips.notifier",
		Stream:      cfg.Bus.StatusStream,
		MaxAttempts: cfg.Status.WorkerAttempts,
		Concurrency: cfg.Status.Concurrency,
		Settle:      cfg.Status.RedeliveryDelay,
	})

	reclaimer := worker.NewReclaimer(consumer, w.Deliver, worker.ReclaimerConfig{
		Name:     "trips.notifier.reclaimer",
		MinIdle:  cfg.Status.ReclaimMinIdle,
		Interval: cfg.Status.ReclaimInterval,
	})

	health := probe.NewHealth(map[string]probe.Pinger{
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"postgres": database.Ping,
	})
	stopProbes := probe.Serve(ctx, cfg.Health, cfg.Metrics, health)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "notifier running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down notifier...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// reclaimer first: it feeds the worker
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
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

	slog.InfoContext(ctx, "notifier shutdown complete")
}

const banner = `
████████╗██████╗ ██╗██████╗ ███████╗
╚══██╔══╝██╔══██╗██║██╔══██╗██╔════╝
   ██║   ██████╔╝██║██████╔╝███████╗
   ██║   ██╔══██╗██║██╔═══╝ ╚════██║
   ██║   ██║  ██║██║██║     ███████║
   ╚═╝   ╚═╝  ╚═╝╚═╝╚═╝     ╚══════╝  notifier
`
