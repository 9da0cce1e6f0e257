package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
)

type ReclaimerConfig struct {
	Name      string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
}

// Reclaimer hands out entries a crashed consumer read but never acked.
type Reclaimer struct {
	source  PendingSource
	deliver func(ctx context.Context, msg queue.Message)
	cfg     ReclaimerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewReclaimer re-drives stale entries through deliver, usually
// (*Worker).Deliver so failures follow the worker's retry policy.
func NewReclaimer(source PendingSource, deliver func(ctx context.Context, msg queue.Message), cfg ReclaimerConfig) *Reclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reclaimer{
		source:    source,
		deliver:   deliver,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called.
func (r *Reclaimer) Run(ctx context.Context) {
	defer close(r.stoppedCh)

	ctx = logger.WithFields(ctx, logger.Fields{Component: r.cfg.Name})

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if err := r.ReclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
			}
		}
	}
}

func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// ReclaimOnce claims and re-drives one page of stale entries.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) error {
	pending, err := r.source.Pending(ctx, r.cfg.MinIdle, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "found stale pending messages", "count", len(pending))

	for _, p := range pending {
		if err := r.reclaimMessage(ctx, p); err != nil {
			slog.ErrorContext(ctx, "failed to reclaim message",
				"error", err,
				"message_id", p.ID,
				"original_consumer", p.Consumer,
				"idle_time", p.Idle)
		}
	}
	return nil
}

func (r *Reclaimer) reclaimMessage(ctx context.Context, p redis.XPendingExt) error {
	ctx = logger.WithFields(ctx, logger.Fields{MessageID: logger.Ptr(p.ID)})

	msg, ok, err := r.source.Claim(ctx, p.ID, r.cfg.MinIdle)
	if err != nil {
		return fmt.Errorf("claiming: %w", err)
	}
	if !ok {
		slog.DebugContext(ctx, "message already reclaimed by another consumer")
		return nil
	}

	// XPENDING counts every hand-out, including the crashed one.
	if n := int(p.RetryCount); n > msg.Delivery {
		msg.Delivery = n
	}

	slog.InfoContext(ctx, "reclaiming stale message",
		"original_consumer", p.Consumer,
		"idle_time", p.Idle,
		"retry_count", p.RetryCount)

	start := time.Now()
	r.deliver(ctx, msg)
	slog.DebugContext(ctx, "reclaimed message handled",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
