package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/metrics"
	"github.com/narrately/novelgraph/internal/stream"
)

const doneSentinel = "[DONE]"

// streamConn is one observer connection. It owns the teardown of its bus
// subscription and registry entry; Close is idempotent and safe to call
// from the registry while the handler goroutine is still writing.
type streamConn struct {
	key       string
	cancelSub stream.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// Close requests teardown. The handler notices via the closed channel and
// unwinds; calling Close again, or concurrently, is a no-op.
func (c *streamConn) Close() {
	c.closeOnce.Do(func() {
		if c.cancelSub != nil {
			c.cancelSub()
		}
		close(c.closed)
	})
}

// streamJobEvents handles GET /v1/jobs/{job_id}/events. It delivers the
// job's full chunk history followed by live chunks as Server-Sent Events.
//
// The handoff between replay and live delivery subscribes to the bus before
// reading the log: any chunk emitted during the read lands in the
// subscription buffer, and duplicates are discarded by sequence number when
// live forwarding starts. A chunk is therefore never lost in the seam and
// never delivered twice.
func (s *Server) streamJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the snapshot read; see handoff note above.
	live, cancelSub := s.bus.Subscribe(jobID)
	conn := &streamConn{
		key:       jobID,
		cancelSub: cancelSub,
		closed:    make(chan struct{}),
	}
	s.registry.Add(jobID, conn)
	metrics.StreamOpened()
	defer func() {
		conn.Close()
		s.registry.Remove(jobID, conn)
		metrics.StreamClosed()
	}()

	history, err := s.chunkLog.Read(r.Context(), jobID)
	if err != nil {
		s.logger.Error("chunk log read failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read job history")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var lastSeq uint64
	for _, chunk := range history {
		if err := writeChunk(w, flusher, chunk); err != nil {
			s.logger.Debug("replay write failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		lastSeq = chunk.Seq
	}
	metrics.ObserveReplayedChunks(len(history))

	s.forwardLive(r.Context(), w, flusher, conn, live, lastSeq)
}

// forwardLive pumps live chunks to the observer until the client
// disconnects, the connection is closed from the registry side, or a write
// fails. Chunks already covered by replay are dropped by sequence number.
func (s *Server) forwardLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	conn *streamConn,
	live <-chan stream.Chunk,
	lastSeq uint64,
) {
	keepAlive := time.NewTicker(s.cfg.KeepAlive())
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.closed:
			// Shutdown path: tell well-behaved clients not to reconnect.
			_ = writeDone(w, flusher)
			return
		case chunk, ok := <-live:
			if !ok {
				_ = writeDone(w, flusher)
				return
			}
			if chunk.Seq != 0 && chunk.Seq <= lastSeq {
				continue
			}
			if err := writeChunk(w, flusher, chunk); err != nil {
				s.logger.Debug("live write failed", zap.String("job_id", conn.key), zap.Error(err))
				return
			}
			// An unsequenced chunk must not reset the dedupe watermark.
			if chunk.Seq != 0 {
				lastSeq = chunk.Seq
			}
			metrics.ObserveLiveChunk()
		case <-keepAlive.C:
			if err := writeKeepAlive(w, flusher); err != nil {
				return
			}
		}
	}
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk stream.Chunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	flusher.Flush()
	return nil
}

func writeKeepAlive(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	flusher.Flush()
	return nil
}

func writeDone(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", doneSentinel); err != nil {
		return fmt.Errorf("write done sentinel: %w", err)
	}
	flusher.Flush()
	return nil
}
