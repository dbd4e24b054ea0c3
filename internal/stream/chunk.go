// Package stream implements real-time distribution of extraction progress
// chunks: a per-job publish/subscribe bus, a registry of open observer
// connections, and a producer that pairs durable log appends with live
// fan-out.
package stream

import (
	"encoding/json"
	"errors"
	"time"
)

// ChunkType denotes the kind of milestone carried by a Chunk.
type ChunkType string

// Chunk types emitted by the extraction pipeline.
const (
	TypeJobStart  ChunkType = "JOB_START"
	TypeHeartbeat ChunkType = "JOB_HEARTBEAT"
	TypeChapter   ChunkType = "CHAPTER"
	TypeCharacter ChunkType = "CHARACTER"
	TypeEvent     ChunkType = "NARRATIVE_EVENT"
	TypeJobDone   ChunkType = "JOB_DONE"
	TypeJobError  ChunkType = "JOB_ERROR"
)

// Chunk is one ordered unit of progress information for a job. The payload
// is opaque to the distribution subsystem; only Type discriminates chunks.
// Seq is assigned by the chunk log on append and is strictly increasing per
// stream key.
type Chunk struct {
	// Seq is the per-key sequence number assigned at append time. Zero
	// means the chunk has not been recorded yet.
	Seq uint64 `json:"seq,omitempty"`
	// Type identifies the pipeline milestone.
	Type ChunkType `json:"type"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Payload carries stage-specific data; the subsystem never inspects it.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs coarse validation on Chunk values.
func (c Chunk) Validate() error {
	if c.Type == "" {
		return errors.New("chunk type is required")
	}
	if c.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// NewChunk builds a Chunk of the given type, marshaling payload to JSON.
// A nil payload yields a chunk with no payload field.
func NewChunk(t ChunkType, ts time.Time, payload any) (Chunk, error) {
	c := Chunk{Type: t, TS: ts.UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Chunk{}, err
		}
		c.Payload = raw
	}
	return c, nil
}
