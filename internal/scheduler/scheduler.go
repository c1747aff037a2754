// Package scheduler runs periodic maintenance tasks in the background.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TaskHandler executes a scheduled task
type TaskHandler func(ctx context.Context) error

// Task is a handler run at a fixed interval
type Task struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs the task once as soon as the scheduler starts.
	RunOnStart bool
	Handler    TaskHandler
}

// TaskStatus reports the last outcome of a task
type TaskStatus struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
}

type taskState struct {
	task   Task
	status TaskStatus
	// running serializes executions of one task
	running sync.Mutex
}

// Scheduler manages scheduled task execution
type Scheduler struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	tasks   map[string]*taskState
	started bool
}

// New creates a new scheduler
func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*taskState),
	}
}

// Register adds a task. Tasks with a non-positive interval are ignored;
// they can still be triggered with RunNow. Registration after Start is
// rejected.
func (s *Scheduler) Register(task Task) error {
	if task.Name == "" || task.Handler == nil {
		return fmt.Errorf("task needs a name and a handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if _, ok := s.tasks[task.Name]; ok {
		return fmt.Errorf("task %q already registered", task.Name)
	}

	s.tasks[task.Name] = &taskState{
		task:   task,
		status: TaskStatus{Name: task.Name, Interval: task.Interval.String()},
	}
	s.logger.Debug("Registered scheduled task",
		"task", task.Name,
		"interval", task.Interval.String(),
	)
	return nil
}

// Start begins one loop per periodic task
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, st := range s.tasks {
		if st.task.Interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.run(st)
	}

	s.logger.Info("Starting scheduler", "tasks", len(s.tasks))
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.logger.Info("Stopping scheduler")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler shutdown timed out")
	}
}

// run is the loop of one task
func (s *Scheduler) run(st *taskState) {
	defer s.wg.Done()

	ticker := time.NewTicker(st.task.Interval)
	defer ticker.Stop()

	if st.task.RunOnStart {
		s.execute(s.ctx, st)
	}
	s.setNextRun(st, time.Now().Add(st.task.Interval))

	for {
		select {
		case <-ticker.C:
			s.execute(s.ctx, st)
			s.setNextRun(st, time.Now().Add(st.task.Interval))
		case <-s.ctx.Done():
			return
		}
	}
}

// RunNow executes a task immediately on the caller's goroutine
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	st, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task not found: %s", name)
	}
	return s.execute(ctx, st)
}

func (s *Scheduler) execute(ctx context.Context, st *taskState) (err error) {
	st.running.Lock()
	defer st.running.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}

		now := time.Now().UTC()
		s.mu.Lock()
		st.status.Runs++
		st.status.LastRun = &now
		st.status.LastError = ""
		if err != nil {
			st.status.Failures++
			st.status.LastError = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("Scheduled task failed",
				"task", st.task.Name,
				"error", err.Error(),
				"duration", time.Since(start).String(),
			)
			return
		}
		s.logger.Debug("Scheduled task completed",
			"task", st.task.Name,
			"duration", time.Since(start).String(),
		)
	}()

	return st.task.Handler(ctx)
}

func (s *Scheduler) setNextRun(st *taskState, next time.Time) {
	next = next.UTC()
	s.mu.Lock()
	st.status.NextRun = &next
	s.mu.Unlock()
}

// Status lists every task, sorted by name
func (s *Scheduler) Status() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, st.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
