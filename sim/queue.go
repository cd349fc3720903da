// Implements the WaitQueue, which holds the requests waiting for a processing slot on a node.
// Requests are enqueued when they arrive at a node, or put back at the head on backpressure.

package sim

import (
	"strings"
)

// WaitQueue is a FIFO queue of requests waiting for a processing slot.
type WaitQueue struct {
	queue []*Request // FIFO queue of requests
}

// Enqueue adds a request to the back of the wait queue.
func (wq *WaitQueue) Enqueue(r *Request) {
	wq.queue = append(wq.queue, r)
}

func (wq *WaitQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, val := range wq.queue {
		sb.WriteString(val.ID)
		if i < len(wq.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// Len returns the number of requests in the queue.
func (wq *WaitQueue) Len() int {
	return len(wq.queue)
}

// Peek returns the request at the front of the queue without removing it.
// Returns nil if the queue is empty.
func (wq *WaitQueue) Peek() *Request {
	if len(wq.queue) == 0 {
		return nil
	}
	return wq.queue[0]
}

// PrependFront inserts a request at the front of the queue.
// Used for backpressure: a job that cannot be forwarded goes back to the head
// of its own node's queue and is retried first.
func (wq *WaitQueue) PrependFront(req *Request) {
	if req == nil {
		panic("PrependFront: req must not be nil")
	}
	wq.queue = append([]*Request{req}, wq.queue...)
}

// Items returns the queue contents for iteration.
// The returned slice is the queue's internal storage; callers MUST NOT
// append to or reslice it.
func (wq *WaitQueue) Items() []*Request {
	return wq.queue
}

// Dequeue removes and returns the request at the front of the queue.
// Returns nil if the queue is empty.
func (wq *WaitQueue) Dequeue() *Request {
	if len(wq.queue) == 0 {
		return nil
	}
	next := wq.queue[0]
	wq.queue[0] = nil
	wq.queue = wq.queue[1:]
	return next
}

// Drain empties the queue and returns its former contents in FIFO order.
func (wq *WaitQueue) Drain() []*Request {
	out := wq.queue
	wq.queue = nil
	if out == nil {
		return []*Request{}
	}
	return out
}
