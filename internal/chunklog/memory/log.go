// Package memory provides an in-memory chunk log for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/narrately/novelgraph/internal/stream"
)

// Log keeps per-key chunk history in process memory. Appends are serialized
// by a single mutex and Read returns a copy, so readers never observe a
// partially appended chunk.
type Log struct {
	mu     sync.RWMutex
	chunks map[string][]stream.Chunk
}

// NewLog constructs an empty Log.
func NewLog() *Log {
	return &Log{chunks: make(map[string][]stream.Chunk)}
}

// Append records chunk as the next element for key. The sequence number is
// 1-based and strictly increasing per key.
func (l *Log) Append(ctx context.Context, key string, chunk stream.Chunk) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := uint64(len(l.chunks[key]) + 1)
	chunk.Seq = seq
	l.chunks[key] = append(l.chunks[key], chunk)
	return seq, nil
}

// Read returns a copy of all chunks recorded for key, in append order.
func (l *Log) Read(ctx context.Context, key string) ([]stream.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	history := l.chunks[key]
	out := make([]stream.Chunk, len(history))
	copy(out, history)
	return out, nil
}
