package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBlobStoreRoundTrip verifies content survives a put/get cycle and the
// URI scheme is stable.
func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "manuscripts/job-1.txt", "text/plain", strings.NewReader("Once upon a time."))
	require.NoError(t, err)
	require.Equal(t, "memory://manuscripts/job-1.txt", uri)

	data, err := store.GetObject(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, "Once upon a time.", string(data))
}

// TestBlobStoreMissing verifies unknown URIs fail.
func TestBlobStoreMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.GetObject(context.Background(), "memory://nope")
	require.Error(t, err)
}

// TestBlobStoreEmptyPathRejected verifies a path is mandatory.
func TestBlobStoreEmptyPathRejected(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "  ", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
}

// TestBlobStoreCopyIsolation verifies callers cannot mutate stored content
// through the returned slice.
func TestBlobStoreCopyIsolation(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	uri, err := store.PutObject(ctx, "m.txt", "text/plain", strings.NewReader("abc"))
	require.NoError(t, err)

	first, err := store.GetObject(ctx, uri)
	require.NoError(t, err)
	first[0] = 'X'

	second, err := store.GetObject(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, "abc", string(second))
}
