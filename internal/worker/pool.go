// Package worker runs fire-and-forget background tasks on a bounded pool.
// Task failures are logged and never reach the code that submitted them.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xelth-com/ocnnode/internal/metrics"
)

// Task is a unit of background work. The context is cancelled when the
// pool stops without draining.
type Task func(ctx context.Context) error

type job struct {
	name string
	task Task
}

// Pool is a fixed number of goroutines reading from a bounded queue.
type Pool struct {
	jobs    chan job
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New creates a pool with the given number of workers and queue size.
// Workers start immediately.
func New(workers, queue int, m *metrics.Metrics, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:    make(chan job, queue),
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		log:     log.With(zap.String("component", "worker")),
	}
	p.group.SetLimit(workers)
	for range workers {
		p.group.Go(p.run)
	}
	return p
}

func (p *Pool) run() error {
	for j := range p.jobs {
		p.execute(j)
	}
	return nil
}

func (p *Pool) execute(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("background task panicked", zap.String("task", j.name), zap.Any("panic", r))
		}
	}()
	if err := j.task(p.ctx); err != nil {
		p.log.Warn("background task failed", zap.String("task", j.name), zap.Error(err))
	}
}

// Submit queues a task. It never blocks: when the queue is full or the
// pool is stopped the task is dropped and false is returned.
func (p *Pool) Submit(name string, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job{name: name, task: task}:
		return true
	default:
		p.log.Warn("background queue full, task dropped", zap.String("task", name))
		if p.metrics != nil {
			p.metrics.TasksDropped.Inc()
		}
		return false
	}
}

// Stop stops accepting tasks and waits for queued ones to finish. When
// ctx ends first, running tasks are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}
