// Package pool implements the fixed-size worker pool the run pass
// dispatches tasks on (the clean pass fans out with errgroup waves
// instead), adapting a producer-consumer workCh/doneCh pair and
// the goroutine-per-task pattern common to DAG schedulers into a
// reusable, long-lived pool rather than one spun up per execution stage.
package pool

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of work submitted to the pool.
type Job struct {
	// Name identifies the job for logging; it is typically a task name.
	Name string
	// Ctx is passed to Run; the pool itself has no lifetime context of
	// its own.
	Ctx context.Context
	// Run performs the work.
	Run func(ctx context.Context) error
}

// Result is delivered on the pool's result channel once a Job finishes.
type Result struct {
	Name string
	Err  error
}

// Pool is a fixed-size worker pool fed by an unbounded internal queue. It
// is safe for concurrent Submit calls. One execution uses it for its run
// pass only; the clean pass does not submit to it.
type Pool struct {
	queueMu sync.Mutex
	queueC  *sync.Cond
	queue   []Job
	closed  bool

	jobs    chan Job
	results chan Result

	wg     sync.WaitGroup
	logger *zap.Logger
}

// DefaultSize returns clamp(NumCPU(), 2, 8), the default worker count,
// overridable by callers via args["_workers"].
func DefaultSize() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

// New starts a Pool with the given number of workers. size is clamped to
// at least 1.
func New(size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		jobs:    make(chan Job),
		results: make(chan Result, size),
		logger:  logger,
	}
	p.queueC = sync.NewCond(&p.queueMu)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go p.dispatch()
	return p
}

// dispatch moves jobs from the unbounded queue onto the zero-buffered jobs
// channel one at a time, blocking only on finding a worker free to take
// the next one, never on a caller of Submit. It exits once Close has been
// called and the queue has fully drained, closing jobs so every worker's
// range loop ends.
func (p *Pool) dispatch() {
	for {
		p.queueMu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.queueC.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.queueMu.Unlock()
			close(p.jobs)
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.queueMu.Unlock()

		p.jobs <- job
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.logger.Debug("pool: job started", zap.String("job", job.Name))
		err := p.runJob(job)
		p.logger.Debug("pool: job finished", zap.String("job", job.Name), zap.Error(err))
		p.results <- Result{Name: job.Name, Err: err}
	}
}

func (p *Pool) runJob(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool: job panicked", zap.String("job", job.Name), zap.Any("recovered", r))
			err = &PanicError{Job: job.Name, Value: r}
		}
	}()
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return job.Run(ctx)
}

// PanicError wraps a recovered panic from a job body.
type PanicError struct {
	Job   string
	Value any
}

func (e *PanicError) Error() string {
	return "pool: job " + e.Job + " panicked"
}

// Submit appends job to the internal queue and returns immediately: it
// never blocks on worker availability, so a caller that both submits work
// and drains Results from a single goroutine cannot deadlock itself by
// submitting more ready work than there are workers or result-buffer
// slots to hold.
func (p *Pool) Submit(job Job) {
	p.queueMu.Lock()
	p.queue = append(p.queue, job)
	p.queueMu.Unlock()
	p.queueC.Signal()
}

// Results returns the channel results are delivered on. Callers must drain
// exactly one Result per Submit.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting new jobs, waits for the queue to drain and every
// in-flight worker to finish, then closes Results. It must only be called
// once, after the caller has received a Result for every submitted Job.
func (p *Pool) Close() {
	p.queueMu.Lock()
	p.closed = true
	p.queueMu.Unlock()
	p.queueC.Signal()

	p.wg.Wait()
	close(p.results)
}
