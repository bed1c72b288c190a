// Package taskqueue implements the priority-aware pull queue of spec §4,
// §5: four named routing classes (default, scan, orchestration, alerting),
// each a priority heap over enqueued jobs, pulled by a worker pool.
package taskqueue

import (
	"container/heap"
	"context"
	"sync"
)

type Class string

const (
	ClassDefault       Class = "default"
	ClassScan          Class = "scan"
	ClassOrchestration Class = "orchestration"
	ClassAlerting      Class = "alerting"
)

// NormalizePriority maps the API priority range [1..10] onto the internal
// queue range [0..9] (spec §5: "API priority 1..10 maps to 0..9 via -1;
// default 5 -> 4").
func NormalizePriority(apiPriority int) int {
	p := apiPriority - 1
	if p < 0 {
		p = 0
	}
	if p > 9 {
		p = 9
	}
	return p
}

// Job is a unit of work routed through one class's priority heap. Payload
// is opaque to the queue; handlers type-assert it.
type Job struct {
	ID       string
	Priority int // 0..9, higher runs first
	Payload  any

	seq int // insertion order, breaks priority ties FIFO
}

type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a broker of per-class priority heaps, safe for concurrent
// producers and consumers. Pull blocks until a job is available or ctx is
// cancelled (spec §5: "blocking is acceptable inside a worker").
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heaps  map[Class]*jobHeap
	seq    int
	closed bool
}

func New() *Queue {
	q := &Queue{heaps: make(map[Class]*jobHeap)}
	q.cond = sync.NewCond(&q.mu)
	for _, c := range []Class{ClassDefault, ClassScan, ClassOrchestration, ClassAlerting} {
		h := &jobHeap{}
		heap.Init(h)
		q.heaps[c] = h
	}
	return q
}

// Push enqueues job onto class's heap and wakes every waiting Pull.
func (q *Queue) Push(class Class, job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	job.seq = q.seq
	heap.Push(q.heaps[class], job)
	q.cond.Broadcast()
}

// Pull removes and returns the highest-priority job of the first non-empty
// class, with classes checked in a fixed precedence order (orchestration and
// alerting ahead of scan/default, so DAG progression and alert dispatch
// are never starved by a backlog of scan work). It blocks until a job is
// available or ctx is done.
func (q *Queue) Pull(ctx context.Context) (*Job, Class, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	precedence := []Class{ClassOrchestration, ClassAlerting, ClassScan, ClassDefault}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for _, c := range precedence {
			h := q.heaps[c]
			if h.Len() > 0 {
				job := heap.Pop(h).(*Job)
				return job, c, true
			}
		}
		if q.closed {
			return nil, "", false
		}
		select {
		case <-ctx.Done():
			return nil, "", false
		default:
		}
		q.cond.Wait()
		if ctx.Err() != nil {
			return nil, "", false
		}
	}
}

// Close releases every blocked Pull with a false ok.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued jobs in class, for observability.
func (q *Queue) Len(class Class) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heaps[class].Len()
}
