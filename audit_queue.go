package authkit

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditQueue hands events to the sink on one worker goroutine so request
// paths never wait on sink I/O. An event that cannot be queued is counted in
// dropped: immediately when the queue drops on full, or when the caller's
// context ends while waiting for space.
type auditQueue struct {
	sink    AuditSink
	events  chan AuditEvent
	wait    bool
	dropped atomic.Uint64

	// mu orders sends against close(events).
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
}

// newAuditQueue returns nil when audit is disabled. Every method is a no-op
// on a nil queue.
func newAuditQueue(cfg AuditConfig, sink AuditSink) *auditQueue {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	q := &auditQueue{
		sink:    sink,
		events:  make(chan AuditEvent, max(cfg.BufferSize, 1)),
		wait:    !cfg.DropIfFull,
		stopped: make(chan struct{}),
	}
	go q.work()
	return q
}

func (q *auditQueue) work() {
	defer close(q.stopped)
	for event := range q.events {
		q.sink.Emit(context.Background(), event)
	}
}

func (q *auditQueue) Emit(ctx context.Context, event AuditEvent) {
	if q == nil {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	if !q.wait {
		select {
		case q.events <- event:
		default:
			q.dropped.Add(1)
		}
		return
	}
	select {
	case q.events <- event:
	case <-ctx.Done():
		q.dropped.Add(1)
	}
}

// Close delivers every queued event, then stops the worker. Later calls and
// later events are ignored.
func (q *auditQueue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()
	<-q.stopped
}

func (q *auditQueue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}
