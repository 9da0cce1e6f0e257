// Package publisher buffers encoded trip events and hands them to the bus in
// batches. A batch leaves as soon as any one threshold is crossed: message
// count, buffered bytes, or time since the first buffered message.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/metrics"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
)

var ErrClosed = errors.New("publisher closed")

// Transport delivers one flushed batch to the bus.
type Transport interface {
	Send(ctx context.Context, payloads [][]byte) error
	Close() error
}

type Settings struct {
	MaxMessages int
	MaxBytes    int
	MaxLatency  time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MaxMessages: 300,
		MaxBytes:    51200,
		MaxLatency:  time.Second,
	}
}

type FlushReason string

const (
	FlushCount    FlushReason = "count"
	FlushBytes    FlushReason = "bytes"
	FlushLatency  FlushReason = "latency"
	FlushManual   FlushReason = "manual"
	FlushShutdown FlushReason = "shutdown"
)

// Flush describes one batch handed to the transport.
type Flush struct {
	Reason   FlushReason
	Messages int
	Bytes    int
	Err      error
}

type Option func(*Publisher)

// WithOnError registers a hook for flushes the transport rejected. The events
// in such a flush are gone; Publish callers never see the error.
func WithOnError(fn func(Flush)) Option {
	return func(p *Publisher) { p.onError = fn }
}

// WithOnFlush registers a hook called after every non-empty flush.
func WithOnFlush(fn func(Flush)) Option {
	return func(p *Publisher) { p.onFlush = fn }
}

// WithIntake sets how many encoded events may wait for the flush loop before
// Publish blocks.
func WithIntake(n int) Option {
	return func(p *Publisher) { p.intakeSize = n }
}

// WithSendTimeout bounds a single transport call.
func WithSendTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.sendTimeout = d }
}

type request struct {
	payload []byte
	reason  FlushReason   // set for flush requests
	done    chan struct{} // closed once a flush request is served
	stop    bool
}

type Publisher struct {
	transport   Transport
	settings    Settings
	onError     func(Flush)
	onFlush     func(Flush)
	intakeSize  int
	sendTimeout time.Duration

	intake    chan request
	closing   chan struct{} // closed when Close starts; unblocks waiting callers
	stoppedCh chan struct{}
	runCtx    context.Context
	abort     context.CancelFunc // cancels an in-flight send when Close runs out of time

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New starts the flush loop. Close must be called to release it.
func New(transport Transport, settings Settings, opts ...Option) *Publisher {
	p := &Publisher{
		transport:   transport,
		settings:    settings,
		intakeSize:  settings.MaxMessages,
		sendTimeout: 30 * time.Second,
		closing:     make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
	p.runCtx, p.abort = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(p)
	}
	p.intake = make(chan request, max(p.intakeSize, 1))

	go p.run()
	return p
}

func (p *Publisher) Settings() Settings {
	return p.settings
}

// Publish encodes and enqueues events. It returns once they are buffered, not
// once they are on the bus.
func (p *Publisher) Publish(ctx context.Context, events ...model.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	for _, ev := range events {
		payload, err := queue.EncodeEvent(ev)
		if err != nil {
			return err
		}
		select {
		case p.intake <- request{payload: payload}:
		case <-p.closing:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Flush sends whatever is buffered and waits until the transport returned.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case p.intake <- request{reason: FlushManual, done: done}:
	case <-p.closing:
		p.mu.RUnlock()
		return ErrClosed
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-p.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the buffer, stops the loop and closes the transport. When ctx
// ends first the in-flight send is cancelled, whatever is still buffered is
// dropped, and the transport is closed anyway. Transports must honour the
// send context for that to be prompt.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		var waitErr error
		select {
		case p.intake <- request{reason: FlushShutdown, stop: true}:
			select {
			case <-p.stoppedCh:
			case <-ctx.Done():
				waitErr = fmt.Errorf("waiting for final flush: %w", ctx.Err())
			}
		case <-ctx.Done():
			waitErr = fmt.Errorf("queueing final flush: %w", ctx.Err())
		}
		if waitErr != nil {
			p.abort()
			<-p.stoppedCh
		}
		p.abort()

		var closeErr error
		if err := p.transport.Close(); err != nil {
			closeErr = fmt.Errorf("closing transport: %w", err)
		}
		p.closeErr = errors.Join(waitErr, closeErr)
	})
	return p.closeErr
}

func (p *Publisher) run() {
	defer close(p.stoppedCh)

	ctx := logger.WithFields(p.runCtx, logger.Fields{
		Component: "trips.publisher",
	})

	var (
		buf   [][]byte
		bytes int
	)
	timer := time.NewTimer(p.settings.MaxLatency)
	timer.Stop()
	defer timer.Stop()

	flush := func(reason FlushReason) {
		timer.Stop()
		if len(buf) == 0 {
			return
		}
		p.send(ctx, reason, buf, bytes)
		buf = nil
		bytes = 0
	}

	for {
		select {
		case <-ctx.Done():
			if len(buf) > 0 {
				metrics.EventsLost.Add(float64(len(buf)))
				slog.WarnContext(ctx, "publisher aborted, buffered events dropped",
					"messages", len(buf),
					"bytes", bytes)
			}
			return

		case <-timer.C:
			flush(FlushLatency)

		case req := <-p.intake:
			if req.payload == nil {
				flush(req.reason)
				if req.done != nil {
					close(req.done)
				}
				if req.stop {
					return
				}
				continue
			}

			if len(buf) > 0 && bytes+len(req.payload) > p.settings.MaxBytes {
				flush(FlushBytes)
			}
			if len(buf) == 0 {
				timer.Reset(p.settings.MaxLatency)
			}

			buf = append(buf, req.payload)
			bytes += len(req.payload)

			switch {
			case len(buf) >= p.settings.MaxMessages:
				flush(FlushCount)
			case bytes >= p.settings.MaxBytes:
				flush(FlushBytes)
			}
		}
	}
}

func (p *Publisher) send(ctx context.Context, reason FlushReason, payloads [][]byte, size int) {
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	f := Flush{Reason: reason, Messages: len(payloads), Bytes: size}
	f.Err = p.transport.Send(sendCtx, payloads)

	metrics.PublishBatchSize.Observe(float64(f.Messages))
	if f.Err != nil {
		metrics.PublishFlushes.WithLabelValues(string(reason), metrics.ResultError).Inc()
		metrics.EventsLost.Add(float64(f.Messages))
		slog.ErrorContext(ctx, "flush failed, events dropped",
			"error", f.Err,
			"reason", reason,
			"messages", f.Messages,
			"bytes", f.Bytes)
		if p.onError != nil {
			p.onError(f)
		}
	} else {
		metrics.PublishFlushes.WithLabelValues(string(reason), metrics.ResultOK).Inc()
		metrics.EventsPublished.Add(float64(f.Messages))
		slog.DebugContext(ctx, "batch flushed",
			"reason", reason,
			"messages", f.Messages,
			"bytes", f.Bytes)
	}

	if p.onFlush != nil {
		p.onFlush(f)
	}
}
