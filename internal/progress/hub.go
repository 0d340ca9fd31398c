package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below.
type Config struct {
	// BufferSize is the capacity of the event channel.
	BufferSize int
	// MaxBatchEvents flushes a batch once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits for a flush.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each sink call.
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub batches events and fans each batch out to its sinks. Emit never blocks,
// so the frontier can report decisions while it holds a queue lock.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog rate.Sometimes
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine for sinks. The Hub accepts events
// immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger.Named("progress"),
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt for the next batch. Invalid events are discarded. When the
// buffer is full the event is dropped and counted.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped, buffer full",
				zap.Int64("dropped_total", total),
				zap.Int("buffer", cap(h.events)),
			)
		})
	}
}

// Dropped returns how many events were lost to a full buffer.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, flushes what is buffered, closes the sinks and waits
// for all of it or ctx. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for progress hub: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	// due is armed by the first event of a batch and disarmed by every flush.
	var due <-chan time.Time
	flush := func() {
		h.flush(batch)
		batch = batch[:0]
		due = nil
	}
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				flush()
			} else if due == nil {
				due = time.After(h.cfg.MaxBatchWait)
			}
		case <-due:
			flush()
		case <-h.stopCh:
			h.drain(batch)
			h.closeSinks()
			return
		}
	}
}

// drain flushes batch plus whatever is still buffered in the channel.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			h.flush(batch)
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	// Sinks may keep the slice; run reuses its backing array.
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("sink rejected batch",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(out)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("close sink failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
