// Package queue runs the balancer's periodic background work: node polling,
// per-secret aggregate rebuilds, the recording retention sweep, the orphan
// blob sweep and recording render tasks. Every job is identified by a
// string key ("node:<id>", "render:<record-set-id>", ...); the scheduler
// guarantees at most one goroutine runs a given key at a time and silently
// drops a tick that arrives while the previous one for that key is still
// running, rather than queueing it up behind it.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of background work, identified by Key. Run is invoked
// with a context derived from the one passed to Start; Stop does not cancel
// it but waits for Run to return.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

// Source produces the current set of tasks to run on a tick. Pollers and
// aggregators implement this by listing nodes, secrets, tenants or
// record-sets at tick time, so membership changes (a node added, a
// record-set finishing) are picked up on the next tick automatically.
type Source func(ctx context.Context) ([]Task, error)

// Job wires one Source to a repeat interval.
type Job struct {
	Name     string
	Interval time.Duration
	Source   Source
}

// Scheduler runs a fixed set of Jobs, each on its own ticker, fanning each
// tick out into per-key goroutines with singleton-per-key de-duplication.
// The graceful start/stop shape (stopCh, stopOnce, WaitGroup) mirrors the
// worker pool this package used to run for session processing.
type Scheduler struct {
	jobs []Job
	log  *slog.Logger

	mu      sync.Mutex
	running map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

func NewScheduler(log *slog.Logger, jobs ...Job) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		jobs:    jobs,
		log:     log,
		running: make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
}

// Start is idempotent: calling it twice has no effect beyond the first.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// Stop signals every job loop to exit and blocks until their in-flight
// ticks finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.tick(ctx, job)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	tasks, err := job.Source(ctx)
	if err != nil {
		s.log.Error("scheduler: source failed", "job", job.Name, "error", err)
		return
	}

	for _, t := range tasks {
		if !s.tryAcquire(t.Key) {
			continue
		}
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			defer s.release(t.Key)
			taskCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			if err := t.Run(taskCtx); err != nil {
				s.log.Error("scheduler: task failed", "key", t.Key, "error", err)
			}
		}(t)
	}
}

// tryAcquire returns false if key is already running, dropping this tick's
// duplicate enqueue per the keyed-singleton contract.
func (s *Scheduler) tryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[key] {
		return false
	}
	s.running[key] = true
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, key)
}

// RunNow invokes a single ad-hoc task outside the ticker loop, without
// waiting for the next tick of any job. It still honors the keyed singleton: if the
// key is already running (the ticker beat it to it), this call is a no-op.
func (s *Scheduler) RunNow(ctx context.Context, t Task) {
	if !s.tryAcquire(t.Key) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(t.Key)
		if err := t.Run(ctx); err != nil {
			s.log.Error("scheduler: ad-hoc task failed", "key", t.Key, "error", err)
		}
	}()
}
