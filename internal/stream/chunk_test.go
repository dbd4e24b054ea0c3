package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestNewChunkMarshalsPayload verifies payloads are serialized and timestamps
// normalized to UTC.
func TestNewChunkMarshalsPayload(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, loc)
	chunk, err := NewChunk(TypeChapter, ts, map[string]any{"index": 1, "title": "Chapter One"})
	require.NoError(t, err)
	require.Equal(t, TypeChapter, chunk.Type)
	require.Equal(t, time.UTC, chunk.TS.Location())
	require.JSONEq(t, `{"index":1,"title":"Chapter One"}`, string(chunk.Payload))
}

// TestNewChunkNilPayload verifies a nil payload stays absent rather than
// serializing to JSON null.
func TestNewChunkNilPayload(t *testing.T) {
	t.Parallel()

	chunk, err := NewChunk(TypeJobStart, time.Now(), nil)
	require.NoError(t, err)
	require.Nil(t, chunk.Payload)
}

// TestNewChunkUnmarshalablePayload verifies marshal failures surface.
func TestNewChunkUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, err := NewChunk(TypeJobStart, time.Now(), func() {})
	require.Error(t, err)
}

// TestChunkValidate covers the required-field checks.
func TestChunkValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Chunk{TS: time.Now()}.Validate())
	require.Error(t, Chunk{Type: TypeJobStart}.Validate())
	require.NoError(t, Chunk{Type: TypeJobStart, TS: time.Now()}.Validate())
}
