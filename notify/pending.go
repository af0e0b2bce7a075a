package notify

import (
	"sync"

	"github.com/carina-health/upsrs/metrics"
	"github.com/rs/zerolog"
)

// PendingQueue holds event frames for subscribers that have no open push
// channel, in generation order. Each subscriber's queue is bounded; the
// oldest entries are dropped under overflow.
type PendingQueue struct {
	mu   sync.Mutex
	byAE map[string][][]byte
	cap  int
	log  zerolog.Logger
}

// NewPendingQueue returns a queue bounding each subscriber to capacity
// frames. A capacity of zero or less means unbounded.
func NewPendingQueue(capacity int, log zerolog.Logger) *PendingQueue {
	return &PendingQueue{
		byAE: make(map[string][][]byte),
		cap:  capacity,
		log:  log,
	}
}

// Append adds a frame to the subscriber's queue.
func (q *PendingQueue) Append(aeTitle string, frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := append(q.byAE[aeTitle], frame)
	if q.cap > 0 && len(queue) > q.cap {
		dropped := len(queue) - q.cap
		queue = queue[dropped:]
		metrics.EventsDropped.Add(float64(dropped))
		q.log.Warn().Str("ae_title", aeTitle).Int("dropped", dropped).Msg("pending queue overflow")
	}
	q.byAE[aeTitle] = queue
}

// Drain removes and returns the subscriber's queued frames in order.
func (q *PendingQueue) Drain(aeTitle string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.byAE[aeTitle]
	delete(q.byAE, aeTitle)
	return queue
}

// Len returns the number of frames queued for the subscriber.
func (q *PendingQueue) Len(aeTitle string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byAE[aeTitle])
}
