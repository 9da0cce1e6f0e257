// Package probe serves the liveness, readiness and metrics endpoints of the
// stream consumers, which have no HTTP API of their own.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const checkTimeout = 2 * time.Second

// Pinger is anything with a cheap round trip to a dependency.
type Pinger func(ctx context.Context) error

// NewHealth returns a handler serving /live and /ready. Each dependency
// becomes a readiness check named after its key.
func NewHealth(deps map[string]Pinger) healthcheck.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	for name, ping := range deps {
		health.AddReadinessCheck(name, healthcheck.Timeout(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
			defer cancel()
			return ping(ctx)
		}, checkTimeout))
	}
	return health
}

// Serve starts the health handler on healthAddr and the prometheus handler on
// metricsAddr. The returned func shuts both down.
func Serve(ctx context.Context, healthAddr, metricsAddr string, health http.Handler) func(context.Context) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	servers := []*http.Server{
		{Addr: healthAddr, Handler: health, ReadHeaderTimeout: 5 * time.Second},
		{Addr: metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second},
	}
	for _, srv := range servers {
		go func() {
			slog.InfoContext(ctx, "probe server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "probe server error", "addr", srv.Addr, "error", err)
			}
		}()
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(ctx))
		}
		return errors.Join(errs...)
	}
}
