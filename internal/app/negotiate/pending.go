package negotiate

import "github.com/voxlink/voxlink/internal/domain"

// pendingQueue buffers signals that arrive before the peer link exists.
// Strict FIFO, no dedup, no TTL; items are only as stale as the
// initialization delay. Callers synchronize access.
type pendingQueue struct {
	items []domain.Signal
}

func (q *pendingQueue) push(sig domain.Signal) {
	q.items = append(q.items, sig)
}

func (q *pendingQueue) len() int {
	return len(q.items)
}

// drain returns the buffered signals in arrival order and empties the
// queue. Once the peer link exists the queue is drained exactly once and
// never refilled.
func (q *pendingQueue) drain() []domain.Signal {
	out := q.items
	q.items = nil
	return out
}

func (q *pendingQueue) clear() {
	q.items = nil
}
