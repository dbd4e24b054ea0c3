package stream

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	closed int
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TestRegistryAddRemove verifies basic bookkeeping and that Remove of an
// absent connection is a no-op.
func TestRegistryAddRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	conn := &fakeConn{}

	reg.Add("job-1", conn)
	require.Equal(t, 1, reg.Count("job-1"))

	reg.Remove("job-1", conn)
	require.Equal(t, 0, reg.Count("job-1"))

	reg.Remove("job-1", conn)
	reg.Remove("unknown", conn)
	require.Equal(t, 0, reg.Count("job-1"))
}

// TestRegistryCloseAll verifies CloseAll closes and deregisters every
// connection for the key and leaves other keys alone.
func TestRegistryCloseAll(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a, b, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	reg.Add("job-1", a)
	reg.Add("job-1", b)
	reg.Add("job-2", other)

	reg.CloseAll("job-1")
	require.Equal(t, 0, reg.Count("job-1"))
	require.Equal(t, 1, reg.Count("job-2"))
	require.Equal(t, 1, a.closes())
	require.Equal(t, 1, b.closes())
	require.Equal(t, 0, other.closes())
}

// TestRegistryShutdown verifies Shutdown closes connections across all keys.
func TestRegistryShutdown(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	conns := []*fakeConn{{}, {}, {}}
	reg.Add("job-1", conns[0])
	reg.Add("job-2", conns[1])
	reg.Add("job-3", conns[2])

	reg.Shutdown(context.Background())
	for i, conn := range conns {
		require.Equal(t, 1, conn.closes(), "conn %d", i)
	}
	require.Equal(t, 0, reg.Count("job-1"))
}

// TestRegistryConnCloseIdempotence documents that the registry may close a
// connection the handler is concurrently closing; fake counts both.
func TestRegistryConnCloseIdempotence(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	conn := &fakeConn{}
	reg.Add("job-1", conn)

	reg.CloseAll("job-1")
	// Late handler teardown after the registry already closed the conn.
	conn.Close()
	reg.Remove("job-1", conn)
	require.Equal(t, 2, conn.closes())
	require.Equal(t, 0, reg.Count("job-1"))
}
