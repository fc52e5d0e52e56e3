// Package logqueue buffers log lines between the hit pipeline and the
// storage writer.
package logqueue

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of lines held before the oldest is dropped.
const DefaultCapacity = 20

// Queue is a bounded FIFO. Push never blocks: when the queue is full the
// oldest line is discarded to make room.
type Queue struct {
	lines   chan string
	pushMu  sync.Mutex
	pushed  atomic.Uint64
	dropped atomic.Uint64
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{lines: make(chan string, capacity)}
}

// Push appends line and reports whether an older line was dropped.
func (q *Queue) Push(line string) bool {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	dropped := false
	for {
		select {
		case q.lines <- line:
			q.pushed.Add(1)
			return dropped
		default:
		}

		select {
		case <-q.lines:
			q.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// Pop waits for the next line.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	select {
	case line := <-q.lines:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Drain removes and returns everything currently queued.
func (q *Queue) Drain() []string {
	var out []string
	for {
		select {
		case line := <-q.lines:
			out = append(out, line)
		default:
			return out
		}
	}
}

func (q *Queue) Len() int { return len(q.lines) }

func (q *Queue) Cap() int { return cap(q.lines) }

// Dropped is the number of lines lost to overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

func (q *Queue) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"queued":   q.Len(),
		"capacity": q.Cap(),
		"pushed":   q.pushed.Load(),
		"dropped":  q.dropped.Load(),
	}
}
