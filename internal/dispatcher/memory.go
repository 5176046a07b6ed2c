package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"packagemanager/pkg/cloudevent"
)

// MemoryDispatcher queues events in a bounded channel and delivers them
// from a fixed set of workers. With one worker, events arrive upstream in
// the order they were dispatched.
type MemoryDispatcher struct {
	queue   chan *Event
	sender  *cloudevent.Sender
	config  MemoryConfig
	logger  *slog.Logger
	metrics MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool

	// stopCtx aborts in-flight retries when a drain deadline passes.
	stopCtx context.Context
	abort   context.CancelFunc
}

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// NewMemory creates and starts an in-memory dispatcher. metrics may be nil.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	stopCtx, abort := context.WithCancel(context.Background())

	d := &MemoryDispatcher{
		queue:    make(chan *Event, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.HTTPTimeout),
		config:   cfg,
		logger:   slog.With("component", "dispatcher"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
		stopCtx:  stopCtx,
		abort:    abort,
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

func (d *MemoryDispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues an event for async delivery.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherDropped(context.Background())
		}
		d.logger.Warn("Event dropped, buffer full",
			"destination", extractHost(event.Destination),
			"type", event.Payload.Type,
		)
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	return Stats{
		QueueDepth:   len(d.queue),
		Queued:       d.queued.Load(),
		Delivered:    d.delivered.Load(),
		Failed:       d.failed.Load(),
		Dropped:      d.dropped.Load(),
		RetriesTotal: d.retriesTotal.Load(),
	}
}

// Close stops the workers after they drain the queue. When ctx ends first,
// in-flight retries are abandoned.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.abort()
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.abort()
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			d.drainQueue()
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

func (d *MemoryDispatcher) drainQueue() {
	for {
		select {
		case event := <-d.queue:
			if d.stopCtx.Err() != nil {
				return
			}
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *MemoryDispatcher) deliver(event *Event) {
	ctx, cancel := context.WithTimeout(d.stopCtx, d.config.MaxElapsed+d.config.HTTPTimeout)
	defer cancel()

	host := extractHost(event.Destination)
	start := time.Now()
	if err := d.sendWithRetry(ctx, event); err != nil {
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Delivery failed", "destination", host, "type", event.Payload.Type, "error", err)
		return
	}

	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

func (d *MemoryDispatcher) sendWithRetry(ctx context.Context, event *Event) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = d.config.InitialBackoff
	expBackoff.MaxElapsedTime = d.config.MaxElapsed

	operation := func() error {
		err := d.sender.Send(ctx, event.Destination, event.Payload, event.SigningKey)
		if cloudevent.IsClientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.retriesTotal.Add(1)
		d.logger.Debug("Delivery attempt failed, retrying", "type", event.Payload.Type, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify)
}

func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
