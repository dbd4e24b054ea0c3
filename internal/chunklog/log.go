// Package chunklog declares the durable, append-only record of progress
// chunks per stream key.
package chunklog

import (
	"context"

	"github.com/narrately/novelgraph/internal/stream"
)

// Log durably records every chunk emitted for a stream key, in emission
// order. Appends to the same key are serialized; a concurrent Read never
// observes a torn write and always returns a prefix of the eventual
// history. Reading a key with no history returns an empty slice.
//
// Retention is unbounded for the process/store lifetime; eviction and
// compaction are deliberately out of scope here.
type Log interface {
	// Append records chunk as the next element for key and returns the
	// assigned per-key sequence number once the write is committed.
	Append(ctx context.Context, key string, chunk stream.Chunk) (uint64, error)
	// Read returns all chunks recorded for key in append order.
	Read(ctx context.Context, key string) ([]stream.Chunk, error)
}
