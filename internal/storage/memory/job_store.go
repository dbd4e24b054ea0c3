package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/narrately/novelgraph/internal/novel"
)

// JobStore provides an in-memory job store for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]novel.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]novel.Job)}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job novel.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status novel.JobStatus,
	errText string,
	counters novel.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return novel.ErrJobNotFound
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == novel.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) && job.Finished == nil {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (novel.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return novel.Job{}, novel.ErrJobNotFound
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status novel.JobStatus) bool {
	switch status {
	case novel.JobStatusSucceeded, novel.JobStatusFailed, novel.JobStatusCanceled:
		return true
	default:
		return false
	}
}
