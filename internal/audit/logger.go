package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valinor-ai/haven/internal/platform/database"
)

const flushTimeout = 5 * time.Second

// Sink persists a batch of events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, events []Event) error

func (f SinkFunc) Write(ctx context.Context, events []Event) error { return f(ctx, events) }

// PostgresSink writes batches into audit_events through db.
func PostgresSink(db database.Querier, store *Store) Sink {
	return SinkFunc(func(ctx context.Context, events []Event) error {
		return store.InsertBatch(ctx, db, events)
	})
}

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func (c *LoggerConfig) withDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// AsyncLogger queues events in memory and writes them to a Sink in batches,
// either when a batch fills up or when the flush interval elapses.
type AsyncLogger struct {
	queue   chan Event
	sink    Sink
	cfg     LoggerConfig
	dropped atomic.Int64
	failed  atomic.Int64
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewAsyncLogger starts the background writer.
func NewAsyncLogger(sink Sink, cfg LoggerConfig) *AsyncLogger {
	cfg.withDefaults()
	l := &AsyncLogger{
		queue: make(chan Event, cfg.BufferSize),
		sink:  sink,
		cfg:   cfg,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues an event without blocking. When the queue is full the event
// is counted as dropped.
func (l *AsyncLogger) Log(_ context.Context, event Event) {
	select {
	case l.queue <- event:
	default:
		l.dropped.Add(1)
		l.cfg.Logger.Warn("audit queue full, dropping event", "action", event.Action)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *AsyncLogger) Dropped() int64 { return l.dropped.Load() }

// Failed returns how many events were lost to sink errors.
func (l *AsyncLogger) Failed() int64 { return l.failed.Load() }

// Close writes whatever is queued and stops the writer. Safe to call twice.
func (l *AsyncLogger) Close() error {
	l.once.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *AsyncLogger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.cfg.BatchSize)
	for {
		select {
		case e := <-l.queue:
			batch = append(batch, e)
			if len(batch) < l.cfg.BatchSize {
				continue
			}
		case <-ticker.C:
		case <-l.stop:
			l.write(append(batch, l.drain()...))
			return
		}
		l.write(batch)
		batch = batch[:0]
	}
}

func (l *AsyncLogger) write(events []Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := l.sink.Write(ctx, events); err != nil {
		l.failed.Add(int64(len(events)))
		l.cfg.Logger.Error("audit write failed", "error", err, "count", len(events))
	}
}

func (l *AsyncLogger) drain() []Event {
	var events []Event
	for {
		select {
		case e := <-l.queue:
			events = append(events, e)
		default:
			return events
		}
	}
}
