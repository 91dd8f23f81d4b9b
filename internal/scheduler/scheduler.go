// Package scheduler runs the node's periodic background tasks. Each task
// ticks on its own period; a tick is skipped while the previous run of the
// same task is still in flight.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/metrics"
)

// RunFunc is one run of a task.
type RunFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	run      RunFunc
	inFlight atomic.Bool
}

// Scheduler runs tasks at fixed periods until its context ends.
type Scheduler struct {
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger

	mu    sync.Mutex
	tasks []*task
	wg    sync.WaitGroup
}

func New(clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock:   clk,
		metrics: m,
		log:     log.With(zap.String("component", "scheduler")),
	}
}

// Add registers a task. Tasks with a non-positive interval are ignored.
// Add must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run RunFunc) {
	if interval <= 0 {
		s.log.Info("Task disabled", zap.String("task", name))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{name: name, interval: interval, run: run})
}

// Start launches one ticker per task. It returns immediately; runs stop
// being started once ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.log.Info("Scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Wait blocks until every loop and in-flight run has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()
	ticker := s.clock.Ticker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, t)
		}
	}
}

// trigger starts a run of t unless one is still in flight.
func (s *Scheduler) trigger(ctx context.Context, t *task) {
	if !t.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("Skipping run, previous still in flight", zap.String("task", t.name))
		s.observe(t.name, "skipped")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.inFlight.Store(false)
		s.execute(ctx, t)
	}()
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Task panicked", zap.String("task", t.name), zap.Any("panic", r))
			s.observe(t.name, "failed")
		}
	}()

	start := s.clock.Now()
	err := t.run(ctx)
	if err != nil {
		errs := multierr.Errors(err)
		s.log.Warn("Task run failed",
			zap.String("task", t.name),
			zap.Int("errors", len(errs)),
			zap.Error(err))
		s.observe(t.name, "failed")
		return
	}
	s.log.Debug("Task run complete", zap.String("task", t.name), zap.Duration("took", s.clock.Since(start)))
	s.observe(t.name, "ok")
}

func (s *Scheduler) observe(name, outcome string) {
	if s.metrics != nil {
		s.metrics.TaskRuns.WithLabelValues(name, outcome).Inc()
	}
}
