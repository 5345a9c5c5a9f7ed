package probe

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cartouche/internal/config"
	"github.com/cartouche/internal/logger"
)

// Job is one scheduled probe.
type Job struct {
	Capsule config.Capsule
	RunID   string
}

// Handler performs a Job.
type Handler func(ctx context.Context, job Job)

// Pool runs jobs on a fixed set of goroutines under a shared rate limit.
type Pool struct {
	size    int
	handle  Handler
	metrics *Metrics
	logger  *slog.Logger
	limiter *rate.Limiter
	jobs    chan Job
	wg      sync.WaitGroup
	active  int64
	cancel  context.CancelFunc
	stop    sync.Once
}

// NewPool creates a pool of size workers starting at most rps jobs per second.
// A zero rps disables the limit.
func NewPool(size, queue int, rps float64, handle Handler, metrics *Metrics, log *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queue < size {
		queue = size
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Pool{
		size:    size,
		handle:  handle,
		metrics: metrics,
		logger:  log,
		limiter: rate.NewLimiter(limit, 1),
		jobs:    make(chan Job, queue),
	}
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.logger.Debug("pool started", "workers", p.size, "queue", cap(p.jobs))
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.metrics.SetQueuedProbes(len(p.jobs))
			p.process(ctx, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	atomic.AddInt64(&p.active, 1)
	p.metrics.IncProbesInFlight()
	defer func() {
		atomic.AddInt64(&p.active, -1)
		p.metrics.DecProbesInFlight()
	}()

	p.handle(ctx, job)
}

// Submit queues a job. It returns false when the queue is full.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		p.metrics.SetQueuedProbes(len(p.jobs))
		return true
	default:
		return false
	}
}

// Active returns the number of jobs being handled.
func (p *Pool) Active() int {
	return int(atomic.LoadInt64(&p.active))
}

// QueueSize returns the current queue length.
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Drain waits up to timeout for in-flight jobs to finish.
func (p *Pool) Drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for atomic.LoadInt64(&p.active) > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	if remaining := atomic.LoadInt64(&p.active); remaining > 0 {
		p.logger.Warn("drain timeout", "in_flight", remaining)
	}
}

// Stop cancels pending jobs and waits for the workers to exit.
func (p *Pool) Stop() {
	p.stop.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		close(p.jobs)
		p.wg.Wait()
		p.logger.Debug("pool stopped")
	})
}
