package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// asyncLogger buffers events in a fixed-size ring and writes them out on a
// background goroutine. Logging never blocks the caller; when the ring is
// full the oldest unwritten event is dropped.
type asyncLogger struct {
	writer Writer
	chain  *HashChain

	// Ring buffer
	buffer []*Event
	size   int
	head   int
	tail   int
	mu     sync.Mutex

	// Background writer
	flushCh  chan struct{}
	doneCh   chan struct{}
	interval time.Duration
}

// newAsyncLogger creates a new async logger over a writer
func newAsyncLogger(writer Writer, cfg Config) *asyncLogger {
	l := &asyncLogger{
		writer:   writer,
		chain:    NewHashChain(),
		buffer:   make([]*Event, cfg.BufferSize),
		size:     cfg.BufferSize,
		flushCh:  make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		interval: cfg.FlushInterval,
	}

	go l.run()

	return l
}

// Log queues an event for the trail. Missing ID and timestamp are filled
// in, and the event is linked into the hash chain before it is buffered.
func (l *asyncLogger) Log(ev *Event) {
	stampEvent(ev)

	if _, err := l.chain.ComputeEventHash(ev); err != nil {
		return
	}

	l.enqueue(ev)
}

// enqueue adds an event to the ring buffer (non-blocking)
func (l *asyncLogger) enqueue(ev *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer[l.tail] = ev
	l.tail = (l.tail + 1) % l.size

	// Drop oldest if buffer full
	if l.tail == l.head {
		l.head = (l.head + 1) % l.size
	}

	// Trigger flush (non-blocking)
	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// run is the background goroutine that flushes events periodically
func (l *asyncLogger) run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush()
			return
		}
	}
}

// Flush writes all buffered events to the writer
func (l *asyncLogger) Flush() error {
	return l.flush()
}

func (l *asyncLogger) flush() error {
	l.mu.Lock()
	events := l.copyEvents()
	l.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	// Write outside of the lock. One failed write must not stall the rest.
	var lastErr error
	for _, ev := range events {
		if err := l.writer.Write(ev); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// copyEvents drains the ring buffer. Caller holds the lock.
func (l *asyncLogger) copyEvents() []*Event {
	if l.head == l.tail {
		return nil
	}

	var events []*Event
	i := l.head
	for i != l.tail {
		events = append(events, l.buffer[i])
		i = (i + 1) % l.size
	}

	l.head = l.tail

	return events
}

// Close flushes remaining events and closes the writer
func (l *asyncLogger) Close() error {
	close(l.doneCh)
	time.Sleep(200 * time.Millisecond) // Give background goroutine time to flush
	return l.writer.Close()
}

// stampEvent fills in ID and timestamp when the caller left them zero.
func stampEvent(ev *Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
}
