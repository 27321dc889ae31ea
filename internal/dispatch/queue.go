// Package dispatch provides the single serialized execution context that
// low-frequency session callbacks are delivered on. The owner either runs
// the queue on a dedicated goroutine with Run, or pumps it from an existing
// tick loop with Drain.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tactile-data/handlink/internal/monitoring"
)

// Task is one unit of deferred work. Tasks should be short; anything heavy
// belongs on its own goroutine.
type Task func()

// Queue serializes tasks onto a single consumer. Posting order is
// preserved. Enqueue never blocks: when the queue is full or closed the
// task is dropped and counted, because the producing side is the message
// pump and must not stall behind a slow consumer.
type Queue struct {
	ch      chan Task
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// New creates a queue holding up to buffer pending tasks.
func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{ch: make(chan Task, buffer)}
}

// Enqueue posts a task. It reports false when the task was dropped.
func (q *Queue) Enqueue(task Task) bool {
	if task == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- task:
		return true
	default:
		n := q.dropped.Add(1)
		monitoring.Logf("dispatch: queue full, dropped task (%d total)", n)
		return false
	}
}

// Run executes tasks until the context is cancelled or the queue is closed.
// It is the consumer loop for daemon-style callers.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.ch:
			if !ok {
				return
			}
			task()
		}
	}
}

// Drain executes every task queued at the time of the call on the caller's
// goroutine. Tick-driven consumers call this once per tick; tests use it to
// make deferred delivery deterministic.
func (q *Queue) Drain() int {
	ran := 0
	for {
		select {
		case task, ok := <-q.ch:
			if !ok {
				return ran
			}
			task()
			ran++
		default:
			return ran
		}
	}
}

// Close marks the queue closed. Further Enqueue calls drop; a Run consumer
// exits after the channel empties. Safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Dropped returns the number of tasks dropped since creation.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of tasks currently waiting.
func (q *Queue) Len() int { return len(q.ch) }
