package multimutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMutexExclusion asserts that holders of the same ID are serialized while
// different IDs proceed independently.
func TestMutexExclusion(t *testing.T) {
	t.Parallel()

	m := NewMutex[string]()

	m.Lock("alice")

	// A different ID is not blocked.
	done := make(chan struct{})
	go func() {
		m.Lock("bob")
		m.Unlock("bob")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on other id blocked")
	}

	// The same ID blocks until released.
	acquired := make(chan struct{})
	go func() {
		m.Lock("alice")
		close(acquired)
	}()

	require.Eventually(t, func() bool {
		return m.numWaiters("alice") == 2
	}, time.Second, 10*time.Millisecond)

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	m.Unlock("alice")
	<-acquired
	m.Unlock("alice")

	require.Zero(t, m.numWaiters("alice"))
}

// TestMutexCounter runs many goroutines against one ID and checks that the
// protected counter is never raced on.
func TestMutexCounter(t *testing.T) {
	t.Parallel()

	const workers = 50

	var (
		m       = NewMutex[uint64]()
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			m.Lock(7)
			counter++
			m.Unlock(7)
		}()
	}
	wg.Wait()

	require.Equal(t, workers, counter)
	require.Zero(t, m.numWaiters(7))
}

// TestMutexDoubleUnlock asserts that unlocking an unknown ID panics.
func TestMutexDoubleUnlock(t *testing.T) {
	t.Parallel()

	m := NewMutex[int]()
	require.Panics(t, func() {
		m.Unlock(1)
	})
}
