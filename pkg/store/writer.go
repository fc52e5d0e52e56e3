package store

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/heitortanoue/irhit/pkg/logqueue"
)

// DefaultWriteInterval is how often queued lines are flushed.
const DefaultWriteInterval = 2 * time.Second

// Writer is the single consumer of the log queue.
type Writer struct {
	queue    *logqueue.Queue
	store    *LogStore
	interval time.Duration

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewWriter(queue *logqueue.Queue, store *LogStore, interval time.Duration) *Writer {
	if interval <= 0 {
		interval = DefaultWriteInterval
	}
	return &Writer{queue: queue, store: store, interval: interval}
}

// Run flushes the queue every interval and once more when ctx ends.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush()
			return
		case <-ticker.C:
			w.Flush()
		}
	}
}

// Flush writes everything currently queued. Lines that fail to write are
// lost; the queue is not refilled.
func (w *Writer) Flush() int {
	lines := w.queue.Drain()
	if len(lines) == 0 {
		return 0
	}

	if err := w.store.Append(lines...); err != nil {
		w.failed.Add(uint64(len(lines)))
		log.WithError(err).WithField("lines", len(lines)).Error("[STORE] write failed")
		return 0
	}
	w.written.Add(uint64(len(lines)))
	return len(lines)
}

func (w *Writer) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"written":  w.written.Load(),
		"failed":   w.failed.Load(),
		"interval": w.interval.String(),
	}
}
