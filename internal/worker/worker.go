// Package worker implements the extraction pipeline execution loop.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/extract"
	"github.com/narrately/novelgraph/internal/metrics"
	"github.com/narrately/novelgraph/internal/novel"
)

// Config controls Worker behavior.
type Config struct {
	// Topic is the optional completion-notification topic; empty disables
	// publishing.
	Topic string
}

// Worker consumes queue items and executes the extraction pipeline.
type Worker struct {
	queue     novel.Queue
	jobStore  novel.JobStore
	blobStore novel.BlobStore
	publisher novel.Publisher
	runner    *extract.Runner
	clock     novel.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue novel.Queue,
	jobStore novel.JobStore,
	blobStore novel.BlobStore,
	publisher novel.Publisher,
	runner *extract.Runner,
	clock novel.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		blobStore: blobStore,
		publisher: publisher,
		runner:    runner,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item novel.QueueItem) {
	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		w.logger.Error("load job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if job.Status == novel.JobStatusCanceled {
		w.logger.Info("skipping canceled job", zap.String("job_id", item.JobID))
		return
	}

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, novel.JobStatusRunning, "", novel.JobCounters{}); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	counters, runErr := w.extractManuscript(ctx, item)

	status := novel.JobStatusSucceeded
	errText := ""
	if runErr != nil {
		status = novel.JobStatusFailed
		errText = runErr.Error()
		w.logger.Warn("extraction failed", zap.String("job_id", item.JobID), zap.Error(runErr))
	}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	w.publishCompletion(ctx, item.JobID, status, counters)
}

func (w *Worker) extractManuscript(ctx context.Context, item novel.QueueItem) (novel.JobCounters, error) {
	raw, err := w.blobStore.GetObject(ctx, item.BlobURI)
	if err != nil {
		return novel.JobCounters{}, fmt.Errorf("load manuscript %s: %w", item.BlobURI, err)
	}
	return w.runner.Run(ctx, item.JobID, string(raw), item.Params)
}

func (w *Worker) publishCompletion(ctx context.Context, jobID string, status novel.JobStatus, counters novel.JobCounters) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"job_id":     jobID,
		"status":     string(status),
		"chapters":   counters.Chapters,
		"characters": counters.Characters,
		"events":     counters.Events,
		"at":         w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish completion failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
