package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/clock/system"
	"github.com/narrately/novelgraph/internal/extract"
	"github.com/narrately/novelgraph/internal/novel"
	publisherMemory "github.com/narrately/novelgraph/internal/publisher/memory"
	queueMemory "github.com/narrately/novelgraph/internal/queue/memory"
	storageMemory "github.com/narrately/novelgraph/internal/storage/memory"
	"github.com/narrately/novelgraph/internal/stream"
)

type nullEmitter struct{}

func (nullEmitter) Emit(context.Context, string, stream.Chunk) error { return nil }

const workerManuscript = `Chapter 1
Anna met Boris by the river. Anna waved. Boris and Anna talked until dusk.
`

func seedJob(t *testing.T, jobStore novel.JobStore, blobStore novel.BlobStore, id string) novel.QueueItem {
	t.Helper()
	ctx := context.Background()
	uri, err := blobStore.PutObject(ctx, "manuscripts/"+id+".txt", "text/plain", strings.NewReader(workerManuscript))
	require.NoError(t, err)
	require.NoError(t, jobStore.CreateJob(ctx, novel.Job{
		ID:        id,
		Title:     "Test",
		BlobURI:   uri,
		Status:    novel.JobStatusQueued,
		Submitted: time.Now(),
	}))
	return novel.QueueItem{JobID: id, BlobURI: uri, Params: novel.JobParameters{MinMentions: 2}}
}

func newWorker(t *testing.T, jobStore novel.JobStore, blobStore novel.BlobStore, queue novel.Queue, pub novel.Publisher, topic string) *Worker {
	t.Helper()
	runner := extract.NewRunner(nullEmitter{}, system.New(), 0, zap.NewNop())
	return New(queue, jobStore, blobStore, pub, runner, system.New(), Config{Topic: topic}, zap.NewNop())
}

// TestWorkerProcessesJobToSuccess verifies the full dequeue-extract-update
// path marks the job succeeded with populated counters.
func TestWorkerProcessesJobToSuccess(t *testing.T) {
	t.Parallel()

	jobStore := storageMemory.NewJobStore()
	blobStore := storageMemory.NewBlobStore()
	queue := queueMemory.NewQueue(4)
	pub := publisherMemory.New()
	w := newWorker(t, jobStore, blobStore, queue, pub, "extractions-done")

	item := seedJob(t, jobStore, blobStore, "job-1")
	require.NoError(t, queue.Enqueue(context.Background(), item))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		job, err := jobStore.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == novel.JobStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	job, err := jobStore.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, job.Counters.Chapters)
	require.Equal(t, 2, job.Counters.Characters)
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "extractions-done", msgs[0].Topic)

	cancel()
	<-done
}

// TestWorkerSkipsCanceledJob verifies a job canceled before dequeue is never
// started.
func TestWorkerSkipsCanceledJob(t *testing.T) {
	t.Parallel()

	jobStore := storageMemory.NewJobStore()
	blobStore := storageMemory.NewBlobStore()
	queue := queueMemory.NewQueue(4)
	w := newWorker(t, jobStore, blobStore, queue, nil, "")

	item := seedJob(t, jobStore, blobStore, "job-1")
	require.NoError(t, jobStore.UpdateJobStatus(context.Background(), "job-1", novel.JobStatusCanceled, "canceled via API", novel.JobCounters{}))

	w.processJob(context.Background(), item)
	job, err := jobStore.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, novel.JobStatusCanceled, job.Status)
}

// TestWorkerMarksFailureOnMissingBlob verifies a missing manuscript fails
// the job with an error message.
func TestWorkerMarksFailureOnMissingBlob(t *testing.T) {
	t.Parallel()

	jobStore := storageMemory.NewJobStore()
	blobStore := storageMemory.NewBlobStore()
	queue := queueMemory.NewQueue(4)
	w := newWorker(t, jobStore, blobStore, queue, nil, "")

	require.NoError(t, jobStore.CreateJob(context.Background(), novel.Job{
		ID:        "job-broken",
		BlobURI:   "memory://missing",
		Status:    novel.JobStatusQueued,
		Submitted: time.Now(),
	}))

	w.processJob(context.Background(), novel.QueueItem{JobID: "job-broken", BlobURI: "memory://missing"})
	job, err := jobStore.GetJob(context.Background(), "job-broken")
	require.NoError(t, err)
	require.Equal(t, novel.JobStatusFailed, job.Status)
	require.NotEmpty(t, job.ErrorText)
}

// TestWorkerRunStopsOnContext verifies Run returns promptly when the
// context finishes.
func TestWorkerRunStopsOnContext(t *testing.T) {
	t.Parallel()

	queue := queueMemory.NewQueue(1)
	w := newWorker(t, storageMemory.NewJobStore(), storageMemory.NewBlobStore(), queue, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
