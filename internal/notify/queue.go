package notify

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ALERT QUEUE - Bounded buffer between detection and delivery
// ═══════════════════════════════════════════════════════════════════════════════
//
// Ticker dispatch must never block on notification delivery. Publish is
// non-blocking; when the queue is full the oldest alert is dropped and
// counted.

const DefaultQueueCapacity = 256

type Queue struct {
	mu       sync.Mutex
	items    []types.AnomalyEvent
	capacity int
	dropped  int64
	wake     chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Publish enqueues an event, dropping the oldest entry on overflow.
func (q *Queue) Publish(ev types.AnomalyEvent) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
		if q.dropped%50 == 1 {
			log.Warn().Int64("dropped", q.dropped).Msg("⚠️ Alert queue overflow, dropping oldest")
		}
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain removes and returns up to max queued events in arrival order.
func (q *Queue) Drain(max int) []types.AnomalyEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	out := make([]types.AnomalyEvent, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out
}

// Wake returns a channel that signals when new events arrive.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many alerts were discarded to overflow.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
