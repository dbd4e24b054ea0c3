package extract

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/novel"
	"github.com/narrately/novelgraph/internal/stream"
)

// Emitter publishes progress chunks for a stream key. stream.Producer
// satisfies this; the pipeline stays agnostic about persistence and fan-out.
type Emitter interface {
	Emit(ctx context.Context, key string, chunk stream.Chunk) error
}

// Runner drives the extraction stages for one manuscript and reports every
// milestone through the Emitter. Emit errors abort the run: a chunk that
// cannot be durably recorded means observers would permanently miss it.
type Runner struct {
	emitter   Emitter
	clock     novel.Clock
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewRunner constructs a Runner. heartbeat <= 0 disables heartbeat chunks.
func NewRunner(emitter Emitter, clock novel.Clock, heartbeat time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
		heartbeat: heartbeat,
	}
}

type startPayload struct {
	JobID    string `json:"job_id"`
	Chapters int    `json:"chapters"`
}

type donePayload struct {
	JobID      string `json:"job_id"`
	Chapters   int    `json:"chapters"`
	Characters int    `json:"characters"`
	Events     int    `json:"events"`
	DurationMs int64  `json:"duration_ms"`
}

type errorPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// Run executes the pipeline over text, emitting chunks keyed by jobID. It
// returns the final counters; on error the JOB_ERROR chunk has already been
// emitted (best effort) before the error is returned.
func (r *Runner) Run(ctx context.Context, jobID, text string, params novel.JobParameters) (novel.JobCounters, error) {
	ctx, span := otel.Tracer("novelgraph/extract").Start(ctx, "extract.run")
	span.SetAttributes(attribute.String("job.id", jobID))
	defer span.End()

	started := r.clock.Now()
	stopHB := r.startHeartbeat(ctx, jobID)
	defer stopHB()

	chapters := SplitChapters(text)
	if params.MaxChapters > 0 && len(chapters) > params.MaxChapters {
		chapters = chapters[:params.MaxChapters]
	}

	if err := r.emit(ctx, jobID, stream.TypeJobStart, startPayload{JobID: jobID, Chapters: len(chapters)}); err != nil {
		return novel.JobCounters{}, err
	}

	counters := novel.JobCounters{Chapters: len(chapters)}
	for _, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return counters, r.fail(jobID, fmt.Errorf("run canceled: %w", err))
		}
		if err := r.emit(ctx, jobID, stream.TypeChapter, ch); err != nil {
			return counters, r.fail(jobID, err)
		}
	}

	characters := DetectCharacters(chapters, params.MinMentions)
	counters.Characters = len(characters)
	for _, c := range characters {
		if err := r.emit(ctx, jobID, stream.TypeCharacter, c); err != nil {
			return counters, r.fail(jobID, err)
		}
	}

	for _, ch := range chapters {
		for _, evt := range ExtractEvents(ch, characters) {
			counters.Events++
			if err := r.emit(ctx, jobID, stream.TypeEvent, evt); err != nil {
				return counters, r.fail(jobID, err)
			}
		}
	}

	done := donePayload{
		JobID:      jobID,
		Chapters:   counters.Chapters,
		Characters: counters.Characters,
		Events:     counters.Events,
		DurationMs: r.clock.Now().Sub(started).Milliseconds(),
	}
	if err := r.emit(ctx, jobID, stream.TypeJobDone, done); err != nil {
		return counters, err
	}
	return counters, nil
}

func (r *Runner) emit(ctx context.Context, jobID string, t stream.ChunkType, payload any) error {
	chunk, err := stream.NewChunk(t, r.clock.Now(), payload)
	if err != nil {
		return fmt.Errorf("encode %s chunk: %w", t, err)
	}
	if err := r.emitter.Emit(ctx, jobID, chunk); err != nil {
		return fmt.Errorf("emit %s chunk: %w", t, err)
	}
	return nil
}

// fail emits a JOB_ERROR chunk before surfacing the original error. The
// error chunk uses a fresh context: the run context may already be canceled
// and the failure still has to reach the log if storage is alive.
func (r *Runner) fail(jobID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.emit(ctx, jobID, stream.TypeJobError, errorPayload{JobID: jobID, Error: cause.Error()}); err != nil {
		r.logger.Warn("emit job error chunk failed", zap.String("job_id", jobID), zap.Error(err))
	}
	return cause
}

func (r *Runner) startHeartbeat(ctx context.Context, jobID string) func() {
	if r.heartbeat <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := r.emit(hbCtx, jobID, stream.TypeHeartbeat, nil); err != nil {
					r.logger.Debug("heartbeat emit failed", zap.String("job_id", jobID), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
