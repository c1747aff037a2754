// Package jobs runs build work in named lanes. Each lane executes its jobs
// one at a time in admission order and deduplicates pending work by key.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Lanes used by the gateway
const (
	LaneDownload = "download"
	LaneCompile  = "compile"
)

// Operation is the work a job performs. The context is detached from the
// request that admitted the job.
type Operation func(ctx context.Context) error

// Job is a unit of work admitted to a lane. Any number of callers may wait
// on the same job.
type Job struct {
	ID        string
	Lane      string
	Key       string
	CreatedAt time.Time

	op       Operation
	done     chan struct{}
	doneOnce sync.Once

	mu          sync.RWMutex
	status      JobStatus
	startedAt   *time.Time
	completedAt *time.Time
	err         error
}

// JobInfo is a point-in-time view of a job for listing.
type JobInfo struct {
	ID          string     `json:"id"`
	Lane        string     `json:"lane"`
	Key         string     `json:"key"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func newJob(lane, key string, op Operation) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Lane:      lane,
		Key:       key,
		CreatedAt: time.Now().UTC(),
		op:        op,
		done:      make(chan struct{}),
		status:    JobQueued,
	}
}

// Done is closed once the job has settled.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job settles and returns its error, or returns
// ctx.Err() if ctx ends first. The job itself keeps running either way.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the job's failure, or nil while it is unsettled or succeeded.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Status returns the current state
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	s := j.Status()
	return s == JobCompleted || s == JobFailed
}

// Duration returns how long the job took (or has been running).
func (j *Job) Duration() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.startedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if j.completedAt != nil {
		end = *j.completedAt
	}
	return end.Sub(*j.startedAt)
}

// Snapshot copies the job's state
func (j *Job) Snapshot() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()

	info := JobInfo{
		ID:          j.ID,
		Lane:        j.Lane,
		Key:         j.Key,
		Status:      j.status,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	return info
}

func (j *Job) markStarted() {
	now := time.Now().UTC()
	j.mu.Lock()
	j.status = JobRunning
	j.startedAt = &now
	j.mu.Unlock()
}

// settle records the outcome and closes done. Later calls are no-ops.
func (j *Job) settle(err error) {
	j.doneOnce.Do(func() {
		now := time.Now().UTC()
		j.mu.Lock()
		j.completedAt = &now
		j.err = err
		if err != nil {
			j.status = JobFailed
		} else {
			j.status = JobCompleted
		}
		j.mu.Unlock()
		close(j.done)
	})
}
