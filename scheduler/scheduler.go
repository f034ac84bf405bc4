// Package scheduler runs named background tasks on fixed intervals or
// one-shot delays. Tasks are fire-and-forget; a panicking task is logged
// and its ticker keeps running.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is a unit of background work.
type TaskFn func()

type periodicTask struct {
	interval time.Duration
	stop     chan struct{}
}

// Scheduler owns all periodic and delayed tasks. Task names are unique;
// registering under an existing name replaces the old task.
type Scheduler struct {
	mu       sync.Mutex
	periodic map[string]*periodicTask
	delayed  map[string]*time.Timer
	done     chan struct{}
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		periodic: make(map[string]*periodicTask),
		delayed:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// AddTicker registers fn to run every interval until the task is removed
// or the scheduler stops.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.periodic[name]; ok {
		close(old.stop)
	}
	task := &periodicTask{interval: interval, stop: make(chan struct{})}
	s.periodic[name] = task

	go s.runPeriodic(name, task, fn)
	s.logger.Info("scheduler task registered",
		zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) runPeriodic(name string, task *periodicTask, fn TaskFn) {
	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runProtected(name, fn)
		case <-task.stop:
			return
		case <-s.done:
			return
		}
	}
}

// AddDelay runs fn once after delay. Re-registering the same name cancels
// the pending run.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.delayed[name]; ok {
		old.Stop()
	}
	s.delayed[name] = time.AfterFunc(delay, func() {
		s.runProtected(name, fn)
		s.mu.Lock()
		delete(s.delayed, name)
		s.mu.Unlock()
	})
}

func (s *Scheduler) runProtected(name string, fn TaskFn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("task", name), zap.Any("recover", r))
		}
	}()
	fn()
}

// Remove cancels the periodic or delayed task registered under name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.periodic[name]; ok {
		close(task.stop)
		delete(s.periodic, name)
	}
	if timer, ok := s.delayed[name]; ok {
		timer.Stop()
		delete(s.delayed, name)
	}
}

// Stop cancels every task. Safe to call more than once.
func (s *Scheduler) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// ListTickers returns the names of registered periodic tasks, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.periodic))
	for name := range s.periodic {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
