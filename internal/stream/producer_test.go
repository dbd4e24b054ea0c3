package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAppender struct {
	seq  uint64
	err  error
	last Chunk
}

func (a *stubAppender) Append(_ context.Context, _ string, chunk Chunk) (uint64, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.seq++
	a.last = chunk
	return a.seq, nil
}

// TestProducerEmitStampsSeq verifies the appended sequence number is carried
// on the published chunk.
func TestProducerEmitStampsSeq(t *testing.T) {
	t.Parallel()

	bus := NewBus(4, zap.NewNop())
	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	p := NewProducer(&stubAppender{}, bus)
	require.NoError(t, p.Emit(context.Background(), "job-1", testChunk(0)))
	require.NoError(t, p.Emit(context.Background(), "job-1", testChunk(0)))

	require.Equal(t, uint64(1), (<-ch).Seq)
	require.Equal(t, uint64(2), (<-ch).Seq)
}

// TestProducerEmitConcurrentKeepsSeqOrder verifies chunks for one key reach
// subscribers in sequence order even when several goroutines emit at once,
// as the pipeline and its heartbeat do.
func TestProducerEmitConcurrentKeepsSeqOrder(t *testing.T) {
	t.Parallel()

	const emitters, perEmitter = 8, 25
	bus := NewBus(emitters*perEmitter, zap.NewNop())
	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	p := NewProducer(&stubAppender{}, bus)
	errCh := make(chan error, emitters*perEmitter)
	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perEmitter; j++ {
				errCh <- p.Emit(context.Background(), "job-1", testChunk(0))
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	var last uint64
	for i := 0; i < emitters*perEmitter; i++ {
		chunk := <-ch
		require.Equal(t, last+1, chunk.Seq, "bus delivery must follow sequence order")
		last = chunk.Seq
	}
}

// TestProducerEmitAppendFailure verifies a failed append publishes nothing
// and surfaces the error.
func TestProducerEmitAppendFailure(t *testing.T) {
	t.Parallel()

	bus := NewBus(4, zap.NewNop())
	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	appendErr := errors.New("disk full")
	p := NewProducer(&stubAppender{err: appendErr}, bus)
	err := p.Emit(context.Background(), "job-1", testChunk(0))
	require.ErrorIs(t, err, appendErr)

	select {
	case chunk := <-ch:
		t.Fatalf("chunk %d published despite append failure", chunk.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestProducerEmitRejectsInvalidChunk verifies validation happens before the
// durable write.
func TestProducerEmitRejectsInvalidChunk(t *testing.T) {
	t.Parallel()

	app := &stubAppender{}
	p := NewProducer(app, NewBus(4, zap.NewNop()))
	err := p.Emit(context.Background(), "job-1", Chunk{})
	require.Error(t, err)
	require.Zero(t, app.seq, "invalid chunk must not reach the log")
}
