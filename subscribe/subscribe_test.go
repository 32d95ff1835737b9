package subscribe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, c *Client[T]) T {
	t.Helper()

	select {
	case update := <-c.Updates():
		return update
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	var zero T
	return zero
}

// TestSubscribeUpdates asserts that every client receives the initial value
// followed by all updates in order.
func TestSubscribeUpdates(t *testing.T) {
	t.Parallel()

	server := NewServer[int]()
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
	})

	first, err := server.Subscribe(0)
	require.NoError(t, err)
	second, err := server.Subscribe()
	require.NoError(t, err)

	require.Equal(t, 0, receive(t, first))

	for i := 1; i <= 5; i++ {
		require.NoError(t, server.SendUpdate(i))
	}

	for i := 1; i <= 5; i++ {
		require.Equal(t, i, receive(t, first))
		require.Equal(t, i, receive(t, second))
	}
}

// TestSubscribeCancel asserts that a cancelled client stops receiving updates
// while the others continue.
func TestSubscribeCancel(t *testing.T) {
	t.Parallel()

	server := NewServer[string]()
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
	})

	cancelled, err := server.Subscribe()
	require.NoError(t, err)
	active, err := server.Subscribe()
	require.NoError(t, err)

	cancelled.Cancel()

	select {
	case <-cancelled.Quit():
	case <-time.After(time.Second):
		t.Fatal("cancelled client not stopped")
	}

	require.NoError(t, server.SendUpdate("update"))
	require.Equal(t, "update", receive(t, active))
}

// TestServerStop asserts that stopping the server releases every client and
// rejects new work.
func TestServerStop(t *testing.T) {
	t.Parallel()

	server := NewServer[int]()
	require.NoError(t, server.Start())

	client, err := server.Subscribe()
	require.NoError(t, err)

	require.NoError(t, server.Stop())

	select {
	case <-client.Quit():
	case <-time.After(time.Second):
		t.Fatal("client not stopped")
	}

	_, err = server.Subscribe()
	require.ErrorIs(t, err, ErrServerShuttingDown)
	require.ErrorIs(t, server.SendUpdate(1), ErrServerShuttingDown)

	// Stopping twice is a no-op.
	require.NoError(t, server.Stop())
}
