// Command ingest submits CSV files of trips as batches and prints one
// "<ingestion_id> <count>" line per file.
//
//	ingest [-header] [-skip N] trips.csv [more.csv ...]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/common/otel"
	"github.com/vitormendes140597/data-engineer-challenge-2024/core/config"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/formatter"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/publisher"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/service"
)

func main() {
	header := flag.Bool("header", false, "skip the first line of every file")
	skip := flag.Int("skip", 0, "lines to skip at the top of every file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-header] [-skip N] file.csv...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *header {
		*skip++
	}

	if err := run(flag.Args(), *skip); err != nil {
		slog.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(files []string, skip int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeIngest)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("initializing otel: %w", err)
	}
	logger.Setup(cfg)

	redisOpts, err := redis.ParseURL(cfg.Bus.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	events := publisher.New(
		queue.NewEventTransport(cfg.Bus, redisClient),
		publisher.Settings{
			MaxMessages: cfg.Publish.MaxMessages,
			MaxBytes:    cfg.Publish.MaxBytes,
			MaxLatency:  cfg.Publish.MaxLatency,
		},
	)
	ingest := service.NewIngestService(events, queue.NewRedisStatusProducer(redisClient, cfg.Bus.StatusStream))

	var errs []error
	for _, path := range files {
		receipt, err := ingestFile(ctx, ingest, path, skip)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fmt.Printf("%s %d\n", receipt.IngestionID, receipt.Count)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := events.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("closing publisher: %w", err))
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func ingestFile(ctx context.Context, ingest service.IngestService, path string, skip int) (service.Receipt, error) {
	f, err := os.Open(path)
	if err != nil {
		return service.Receipt{}, err
	}
	defer f.Close()

	receipt, err := ingest.IngestCSV(ctx, f, skip, "cli")
	if errors.Is(err, formatter.ErrMalformedRecord) {
		return service.Receipt{}, fmt.Errorf("nothing published: %w", err)
	}
	return receipt, err
}
