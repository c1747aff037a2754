package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"buildgate/internal/errors"
)

// DefaultMaxQueueSize bounds the pending jobs of one lane.
const DefaultMaxQueueSize = 10

// QueueConfig contains configuration for the job queue.
type QueueConfig struct {
	// MaxQueueSize caps pending jobs per lane, the running job included.
	MaxQueueSize int
}

// DefaultQueueConfig returns the default queue configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxQueueSize: DefaultMaxQueueSize}
}

type lane struct {
	pending  []*Job
	draining bool
}

// Queue admits jobs into lanes and drains each lane on its own goroutine,
// started on demand and stopped when the lane is empty.
type Queue struct {
	maxSize int
	logger  *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// QueueStats summarizes queue activity.
type QueueStats struct {
	Pending      map[string]int `json:"pending"`
	MaxQueueSize int            `json:"maxQueueSize"`
	Processed    int64          `json:"processedTotal"`
	Failed       int64          `json:"failedTotal"`
	Idle         bool           `json:"idle"`
}

// NewQueue creates a new job queue.
func NewQueue(logger *slog.Logger, cfg QueueConfig) *Queue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	return &Queue{
		maxSize: cfg.MaxQueueSize,
		logger:  logger,
		lanes:   make(map[string]*lane),
	}
}

// AddJob admits op to laneName under key. A full lane is rejected with
// QueueFull before deduplication is considered. If a job with the same key
// is still pending, that job is returned with created=false.
func (q *Queue) AddJob(laneName, key string, op Operation) (*Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false, errors.New(errors.Unavailable, "job queue is shutting down", nil)
	}

	l, ok := q.lanes[laneName]
	if !ok {
		l = &lane{}
		q.lanes[laneName] = l
	}

	if len(l.pending) >= q.maxSize {
		q.logger.Warn("Job queue full",
			"lane", laneName,
			"key", key,
			"pending", len(l.pending),
		)
		return nil, false, errors.Newf(errors.QueueFull, "%s queue is full (%d pending)", laneName, len(l.pending)).
			WithDetails(map[string]interface{}{
				"lane":         laneName,
				"maxQueueSize": q.maxSize,
			})
	}

	for _, existing := range l.pending {
		if existing.Key == key {
			q.logger.Debug("Joined pending job",
				"lane", laneName,
				"key", key,
				"jobId", existing.ID,
			)
			return existing, false, nil
		}
	}

	job := newJob(laneName, key, op)
	l.pending = append(l.pending, job)

	q.logger.Debug("Job queued",
		"lane", laneName,
		"key", key,
		"jobId", job.ID,
		"position", len(l.pending),
	)

	if !l.draining {
		l.draining = true
		q.wg.Add(1)
		go q.drain(laneName, l)
	}

	return job, true, nil
}

// drain runs a lane's jobs oldest first until the lane is empty.
func (q *Queue) drain(name string, l *lane) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			l.draining = false
			q.mu.Unlock()
			return
		}
		job := l.pending[0]
		q.mu.Unlock()

		err := q.run(job)

		q.mu.Lock()
		for i, p := range l.pending {
			if p == job {
				l.pending = append(l.pending[:i], l.pending[i+1:]...)
				break
			}
		}
		q.mu.Unlock()

		job.settle(err)
	}
}

// run executes a single job, turning a panic into a failure.
func (q *Queue) run(job *Job) (err error) {
	job.markStarted()
	startTime := time.Now()

	q.logger.Info("Processing job",
		"lane", job.Lane,
		"key", job.Key,
		"jobId", job.ID,
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}

		duration := time.Since(startTime)
		if err != nil {
			q.failed.Add(1)
			q.logger.Error("Job failed",
				"lane", job.Lane,
				"key", job.Key,
				"jobId", job.ID,
				"error", err.Error(),
				"duration", duration.String(),
			)
			return
		}
		q.processed.Add(1)
		q.logger.Info("Job completed",
			"lane", job.Lane,
			"key", job.Key,
			"jobId", job.ID,
			"duration", duration.String(),
		)
	}()

	return job.op(context.Background())
}

// Pending returns the number of unsettled jobs in a lane.
func (q *Queue) Pending(laneName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[laneName]; ok {
		return len(l.pending)
	}
	return 0
}

// Jobs lists the unsettled jobs of a lane in admission order.
func (q *Queue) Jobs(laneName string) []JobInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[laneName]
	if !ok {
		return []JobInfo{}
	}
	infos := make([]JobInfo, 0, len(l.pending))
	for _, j := range l.pending {
		infos = append(infos, j.Snapshot())
	}
	return infos
}

// Waiters returns the completion channels of a lane's unsettled jobs.
func (q *Queue) Waiters(laneName string) []<-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[laneName]
	if !ok {
		return nil
	}
	chans := make([]<-chan struct{}, 0, len(l.pending))
	for _, j := range l.pending {
		chans = append(chans, j.Done())
	}
	return chans
}

// Lanes returns the names of lanes that have been used, sorted.
func (q *Queue) Lanes() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.lanes))
	for name := range q.lanes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Idle reports whether no lane has unsettled work. External cleanup uses
// it to decide when output trees may be removed.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idleLocked()
}

func (q *Queue) idleLocked() bool {
	for _, l := range q.lanes {
		if len(l.pending) > 0 {
			return false
		}
	}
	return true
}

// Stats returns queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make(map[string]int, len(q.lanes))
	for name, l := range q.lanes {
		pending[name] = len(l.pending)
	}
	return QueueStats{
		Pending:      pending,
		MaxQueueSize: q.maxSize,
		Processed:    q.processed.Load(),
		Failed:       q.failed.Load(),
		Idle:         q.idleLocked(),
	}
}

// Shutdown stops admitting jobs and waits for the lanes to drain.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.logger.Info("Stopping job queue")

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Job queue stopped cleanly")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job queue shutdown: %w", ctx.Err())
	}
}
