package transcode

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

// Task is one job handed to the pool.
type Task struct {
	Job       *models.Job
	SourceKey string
}

// RunFunc executes a task to completion.
type RunFunc func(ctx context.Context, t Task)

// Pool runs tasks on a fixed number of workers. Capacity (running plus
// queued) is reserved before a job row is written, so admission can refuse
// work without leaving a pending row behind.
type Pool struct {
	workers int
	slots   chan struct{}
	tasks   chan Task
	quit    chan struct{}
	run     RunFunc
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	held   map[uuid.UUID]struct{}
	wg     sync.WaitGroup
}

// NewPool returns a pool of workers goroutines with room for queueSize
// waiting tasks. Call Start to begin processing.
func NewPool(workers, queueSize int, run RunFunc, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	capacity := workers + queueSize
	return &Pool{
		workers: workers,
		slots:   make(chan struct{}, capacity),
		tasks:   make(chan Task, capacity),
		quit:    make(chan struct{}),
		run:     run,
		logger:  logger,
		held:    make(map[uuid.UUID]struct{}),
	}
}

// Start launches the workers. Tasks run under a context that keeps ctx's
// values but is never cancelled: a started job always runs to a terminal state.
func (p *Pool) Start(ctx context.Context) {
	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.tasks:
			select {
			case <-p.quit:
				p.logger.Warn("pool shutting down, leaving job pending",
					slog.String("job_id", t.Job.ID.String()))
				p.forget(t.Job.ID)
				<-p.slots
				return
			default:
			}
			p.runTask(ctx, id, t)
		}
	}
}

func (p *Pool) runTask(ctx context.Context, id int, t Task) {
	defer func() { <-p.slots }()
	defer p.forget(t.Job.ID)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in pool worker",
				slog.Int("worker", id),
				slog.String("job_id", t.Job.ID.String()),
				slog.Any("panic", r))
		}
	}()
	p.run(ctx, t)
}

// Reservation is a claimed pool slot. Exactly one of Dispatch or Release
// must be called.
type Reservation struct {
	pool *Pool
	once sync.Once
}

// Reserve claims capacity for one task without blocking.
func (p *Pool) Reserve() (*Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	select {
	case p.slots <- struct{}{}:
		return &Reservation{pool: p}, nil
	default:
		return nil, ErrQueueFull
	}
}

// Dispatch queues t on the reserved slot. It never blocks.
func (r *Reservation) Dispatch(t Task) {
	r.once.Do(func() {
		r.pool.mu.Lock()
		r.pool.held[t.Job.ID] = struct{}{}
		r.pool.mu.Unlock()
		r.pool.tasks <- t
	})
}

// Release gives the slot back without running anything.
func (r *Reservation) Release() {
	r.once.Do(func() {
		<-r.pool.slots
	})
}

// Holds reports whether the job is queued or running in this pool.
func (p *Pool) Holds(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.held[id]
	return ok
}

func (p *Pool) forget(id uuid.UUID) {
	p.mu.Lock()
	delete(p.held, id)
	p.mu.Unlock()
}

// InFlight reports how many slots are taken, running or queued.
func (p *Pool) InFlight() int {
	return len(p.slots)
}

// Shutdown stops intake and waits for running tasks to finish. Tasks still
// queued are left in the pending state for the reaper to pick up later.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.quit)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
