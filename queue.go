package asyncmc

import (
	"sync"

	"github.com/edwingeng/deque/v2"

	"github.com/asyncmc/asyncmc/meta"
)

// result travels through a one-shot reply slot from the driver to the
// submitting goroutine. Exactly one of resp and err is set.
type result struct {
	resp *meta.Response
	err  error
}

// pending pairs a request with its one-shot reply slot. The slot is a
// 1-buffered channel so the driver can complete it without blocking even
// when the submitter has abandoned the wait.
type pending struct {
	req   *meta.Request
	reply chan result
}

func (p pending) complete(r result) {
	p.reply <- r
}

// submitQueue is the unbounded multi-producer single-consumer request
// stream between command callers and the connection driver. Pushing never
// blocks; the driver drains strictly in FIFO order.
type submitQueue struct {
	mu     sync.Mutex
	items  *deque.Deque[pending]
	closed bool

	// signal wakes the driver after a push; 1-buffered so producers
	// never block on it.
	signal chan struct{}
}

func newSubmitQueue() *submitQueue {
	return &submitQueue{
		items:  deque.NewDeque[pending](),
		signal: make(chan struct{}, 1),
	}
}

// push enqueues p. It returns false when the queue is closed; the caller
// then fails the submission with ErrConnectionShutdown.
func (q *submitQueue) push(p pending) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.PushBack(p)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop dequeues the oldest pending request without blocking.
func (q *submitQueue) pop() (pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.IsEmpty() {
		return pending{}, false
	}
	return q.items.PopFront(), true
}

// close marks the queue closed and returns everything still queued so the
// caller can fail it. Pushes after close are rejected.
func (q *submitQueue) close() []pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	drained := make([]pending, 0, q.items.Len())
	for !q.items.IsEmpty() {
		drained = append(drained, q.items.PopFront())
	}
	return drained
}
