package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/narrately/novelgraph/internal/novel"
)

func queuedJob(id string) novel.Job {
	return novel.Job{
		ID:        id,
		Title:     "A Novel",
		BlobURI:   "memory://manuscripts/" + id + ".txt",
		Status:    novel.JobStatusQueued,
		Submitted: time.Now().UTC(),
	}
}

// TestJobStoreCreateAndGet verifies round-trip persistence and duplicate
// rejection.
func TestJobStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, queuedJob("job-1")))
	require.Error(t, store.CreateJob(ctx, queuedJob("job-1")), "duplicate IDs must be rejected")

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, novel.JobStatusQueued, job.Status)
}

// TestJobStoreGetMissing verifies the sentinel not-found error.
func TestJobStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	_, err := store.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, novel.ErrJobNotFound)
}

// TestJobStoreStatusTransitions verifies started/finished timestamps are
// stamped once on the matching transitions.
func TestJobStoreStatusTransitions(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, queuedJob("job-1")))

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", novel.JobStatusRunning, "", novel.JobCounters{}))
	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.Started)
	require.Nil(t, job.Finished)
	started := *job.Started

	counters := novel.JobCounters{Chapters: 3, Characters: 2, Events: 5}
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", novel.JobStatusSucceeded, "", counters))
	job, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.Finished)
	require.Equal(t, started, *job.Started, "started timestamp must not move")
	require.Equal(t, counters, job.Counters)
}

// TestJobStoreUpdateMissing verifies updates on unknown jobs fail with the
// sentinel error.
func TestJobStoreUpdateMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	err := store.UpdateJobStatus(context.Background(), "nope", novel.JobStatusFailed, "boom", novel.JobCounters{})
	require.ErrorIs(t, err, novel.ErrJobNotFound)
}

// TestJobStoreFailureRecordsError verifies error text survives the terminal
// update.
func TestJobStoreFailureRecordsError(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, queuedJob("job-1")))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", novel.JobStatusFailed, "blob missing", novel.JobCounters{}))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, novel.JobStatusFailed, job.Status)
	require.Equal(t, "blob missing", job.ErrorText)
	require.NotNil(t, job.Finished)
}
