package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/common/otel"
	"github.com/vitormendes140597/data-engineer-challenge-2024/core/config"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/http/middleware"
	httprouter "github.com/vitormendes140597/data-engineer-challenge-2024/internal/http/router"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/publisher"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/service"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// otel first: in production the logger writes through its provider
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "trips server starting",
		"env", cfg.Env,
		"bus", cfg.Bus.Driver,
		"max_messages", cfg.Publish.MaxMessages,
		"max_bytes", cfg.Publish.MaxBytes,
		"max_latency", cfg.Publish.MaxLatency)

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
	slog.InfoContext(ctx, "redis connected", "status_stream", cfg.Bus.StatusStream)

	events := publisher.New(
		queue.NewEventTransport(cfg.Bus, redisClient),
		publisher.Settings{
			MaxMessages: cfg.Publish.MaxMessages,
			MaxBytes:    cfg.Publish.MaxBytes,
			MaxLatency:  cfg.Publish.MaxLatency,
		},
	)

	services := httprouter.Services{
		Ingest: service.NewIngestService(events, queue.NewRedisStatusProducer(redisClient, cfg.Bus.StatusStream)),
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, services),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	// after the server: in-flight requests may still be publishing
	if err := events.Close(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "publisher shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services httprouter.Services) *gin.Engine {
	router := gin.New()

	// span first so recovery and request logs carry the trace
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.TraceHeader(cfg.Bus.TraceHeaderName))
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services)

	return router
}

const banner = `
████████╗██████╗ ██╗██████╗ ███████╗
╚══██╔══╝██╔══██╗██║██╔══██╗██╔════╝
   ██║   ██████╔╝██║██████╔╝███████╗
   ██║   ██╔══██╗██║██╔═══╝ ╚════██║
   ██║   ██║  ██║██║██║     ███████║
   ╚═╝   ╚═╝  ╚═╝╚═╝╚═╝     ╚══════╝  server
`
