package llm

import (
	"container/heap"
	"context"
	"sync"

	"cyberredd/internal/cerr"
)

// job is one queued gateway request plus the channel its Response is
// delivered on.
type job struct {
	priority Priority
	sequence uint64
	request  Request
	result   chan Response
	index    int
}

// jobHeap orders by (priority, sequence): DIRECTOR before AGENT, FIFO
// within a priority.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].sequence < h[j].sequence
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the gateway's two-priority job queue.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     jobHeap
	sequence uint64
	closed   bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// EnqueueDirector/EnqueueAgent return a channel the caller reads the
// eventual Response from.
func (q *Queue) EnqueueDirector(req Request) chan Response { return q.enqueue(PriorityDirector, req) }
func (q *Queue) EnqueueAgent(req Request) chan Response    { return q.enqueue(PriorityAgent, req) }

func (q *Queue) enqueue(p Priority, req Request) chan Response {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sequence++
	j := &job{priority: p, sequence: q.sequence, request: req, result: make(chan Response, 1)}
	heap.Push(&q.heap, j)
	q.cond.Signal()
	return j.result
}

// Dequeue blocks until a job is available, ctx is cancelled, or the queue
// is closed. A nil job with LLMTimeoutError is returned on ctx cancel.
func (q *Queue) Dequeue(ctx context.Context) (*job, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		if ctx.Err() != nil {
			return nil, &cerr.LLMTimeoutError{Stage: "dequeue"}
		}
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return nil, &cerr.LLMTimeoutError{Stage: "dequeue"}
	}
	j := heap.Pop(&q.heap).(*job)
	return j, nil
}

// Depth reports the current queue length, used for metrics.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close unblocks any pending Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
