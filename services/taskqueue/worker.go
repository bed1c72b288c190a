package taskqueue

import (
	"context"
	"sync"

	"github.com/riftwatch/easm/pkg/logger"
)

// Handler processes a job's payload. A non-nil error is logged; the queue
// itself does not retry (each service layer owns its own failure handling,
// e.g. the scan runner transitions the task to failed rather than
// re-enqueuing).
type Handler func(ctx context.Context, job *Job) error

// Pool runs N worker goroutines pulling from a Queue and dispatching to a
// per-class Handler, matching the "stateless worker, blocking I/O inside a
// worker" scheduling model of spec §5.
type Pool struct {
	queue    *Queue
	handlers map[Class]Handler
	log      *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(queue *Queue, log *logger.Logger) *Pool {
	return &Pool{queue: queue, handlers: make(map[Class]Handler), log: log}
}

// Handle registers the handler invoked for jobs pulled from class.
func (p *Pool) Handle(class Class, h Handler) {
	p.handlers[class] = h
}

// Start launches n worker goroutines. Stop cancels them and waits for the
// current job in each to finish.
func (p *Pool) Start(ctx context.Context, n int) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.queue.Close()
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		job, class, ok := p.queue.Pull(ctx)
		if !ok {
			return
		}
		handler, ok := p.handlers[class]
		if !ok {
			if p.log != nil {
				p.log.WithField("class", string(class)).Warn("no handler registered for queue class")
			}
			continue
		}
		if err := handler(ctx, job); err != nil && p.log != nil {
			p.log.WithField("job_id", job.ID).WithField("class", string(class)).WithError(err).Error("job handler failed")
		}
	}
}
