package audit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ChainLogger writes hash-chained events to persistent storage in batches.
// Events are buffered on a channel and flushed by a background worker; the
// chain is resumed from the last stored event so restarts do not break
// verification.
type ChainLogger struct {
	store         Store
	chain         *HashChain
	events        chan *Event
	flushInterval time.Duration
	batchSize     int
	logger        *zap.Logger

	cancel     context.CancelFunc
	workerDone chan struct{}

	logged  atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// ChainConfig holds configuration for the chain logger
type ChainConfig struct {
	Store         Store
	BufferSize    int
	FlushInterval time.Duration
	BatchSize     int
	Logger        *zap.Logger
}

const (
	// DefaultChainBufferSize is the default capacity for the event buffer
	DefaultChainBufferSize = 10000

	// DefaultChainFlushInterval is how often buffered events are flushed
	DefaultChainFlushInterval = 1 * time.Second

	// DefaultChainBatchSize is the max number of events written in one batch
	DefaultChainBatchSize = 100
)

// NewChainLogger creates a chain logger over a store and resumes the hash
// chain from the most recent stored event.
func NewChainLogger(cfg ChainConfig) (*ChainLogger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("audit store is required")
	}

	bufferSize := DefaultChainBufferSize
	if cfg.BufferSize > 0 {
		bufferSize = cfg.BufferSize
	}

	flushInterval := DefaultChainFlushInterval
	if cfg.FlushInterval > 0 {
		flushInterval = cfg.FlushInterval
	}

	batchSize := DefaultChainBatchSize
	if cfg.BatchSize > 0 {
		batchSize = cfg.BatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &ChainLogger{
		store:         cfg.Store,
		chain:         NewHashChain(),
		events:        make(chan *Event, bufferSize),
		flushInterval: flushInterval,
		batchSize:     batchSize,
		logger:        logger,
		cancel:        cancel,
		workerDone:    make(chan struct{}),
	}

	last, err := l.store.GetLastEvent(context.Background())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load last audit event: %w", err)
	}
	if last != nil {
		l.chain.InitializeWithHash(last.Hash)
	}

	go l.worker(ctx)

	return l, nil
}

// Log links an event into the chain and queues it for storage. It never
// blocks; when the buffer is full the event is dropped and the gap remains
// visible to chain verification.
func (l *ChainLogger) Log(ev *Event) {
	stampEvent(ev)

	if _, err := l.chain.ComputeEventHash(ev); err != nil {
		l.failed.Add(1)
		l.logger.Error("compute audit event hash", zap.Error(err))
		return
	}

	select {
	case l.events <- ev:
		l.logged.Add(1)
	default:
		l.dropped.Add(1)
		l.logger.Warn("audit buffer full, event dropped",
			zap.String("event_id", ev.ID.String()),
			zap.String("action", ev.Action),
		)
	}
}

// LogSync links an event into the chain and stores it immediately. Use it
// for events that must not be lost on shutdown.
func (l *ChainLogger) LogSync(ctx context.Context, ev *Event) error {
	stampEvent(ev)

	if _, err := l.chain.ComputeEventHash(ev); err != nil {
		l.failed.Add(1)
		return fmt.Errorf("compute event hash: %w", err)
	}

	if err := l.store.Insert(ctx, ev); err != nil {
		l.failed.Add(1)
		return fmt.Errorf("store event: %w", err)
	}

	l.logged.Add(1)
	return nil
}

// Query retrieves audit events based on filter criteria
func (l *ChainLogger) Query(ctx context.Context, f *Filter) ([]*Event, error) {
	return l.store.Query(ctx, f)
}

// VerifyIntegrity verifies the hash chain over a time range
func (l *ChainLogger) VerifyIntegrity(ctx context.Context, from, to time.Time) error {
	return l.store.VerifyIntegrity(ctx, from, to)
}

// Flush is a no-op; the worker flushes on its own cadence.
func (l *ChainLogger) Flush() error {
	return nil
}

// Close stops the worker after a final flush of buffered events.
func (l *ChainLogger) Close() error {
	l.cancel()
	<-l.workerDone
	return nil
}

// Stats returns counters for logged, dropped and failed events.
func (l *ChainLogger) Stats() (logged, dropped, failed int64) {
	return l.logged.Load(), l.dropped.Load(), l.failed.Load()
}

// worker drains the event channel into batches and writes them out.
func (l *ChainLogger) worker(ctx context.Context) {
	defer close(l.workerDone)

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, l.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}

		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.store.InsertBatch(flushCtx, batch); err != nil {
			l.failed.Add(int64(len(batch)))
			l.logger.Error("store audit batch",
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
		cancel()

		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain whatever is still queued before shutting down.
			for {
				select {
				case ev := <-l.events:
					batch = append(batch, ev)
					if len(batch) >= l.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}

		case ev := <-l.events:
			batch = append(batch, ev)
			if len(batch) >= l.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}
