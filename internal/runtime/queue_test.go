package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanQueue forwards every handled item to a buffered channel.
func chanQueue[T any](buf int) (*Queue[T], chan T) {
	out := make(chan T, buf)
	q := NewQueue(func(v T) { out <- v }, nil)
	return q, out
}

func TestQueue_DeliversInOrder(t *testing.T) {
	q, out := chanQueue[int](10)
	defer q.Close()

	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(i))
	}

	for i := 0; i < 5; i++ {
		select {
		case v := <-out:
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for value %d", i)
		}
	}
}

func TestQueue_PausedHoldsItems(t *testing.T) {
	q, out := chanQueue[int](10)
	defer q.Close()

	q.SetPaused(true)
	q.Enqueue(1)
	q.Enqueue(2)

	select {
	case <-out:
		t.Fatal("should not receive value while paused")
	case <-time.After(50 * time.Millisecond):
	}

	q.SetPaused(false)

	assert.Equal(t, 1, <-out)
	assert.Equal(t, 2, <-out)
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q, _ := chanQueue[int](1)
	q.Close()

	require.NotPanics(t, func() {
		assert.False(t, q.Enqueue(42))
	})
}

func TestQueue_CloseDropsPending(t *testing.T) {
	var handled []int
	var mu sync.Mutex
	q := NewQueue(func(v int) {
		mu.Lock()
		handled = append(handled, v)
		mu.Unlock()
	}, nil)

	q.SetPaused(true)
	q.Enqueue(1)
	q.Enqueue(2)
	q.Close()

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dispatcher exit")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, handled)
}

func TestQueue_OnExitRunsAfterLastItem(t *testing.T) {
	out := make(chan string, 4)
	var q *Queue[string]
	q = NewQueue(func(v string) {
		out <- v
		if v == "last" {
			q.Close()
		}
	}, func() { out <- "exit" })

	q.Enqueue("first")
	q.Enqueue("last")

	<-q.Done()
	close(out)

	var got []string
	for v := range out {
		got = append(got, v)
	}
	assert.Equal(t, []string{"first", "last", "exit"}, got)
}

func TestQueue_MultipleCloses(t *testing.T) {
	q, _ := chanQueue[int](1)
	q.Close()

	require.NotPanics(t, func() {
		q.Close()
	})
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	numGoroutines := 10
	itemsPerGoroutine := 10
	q, out := chanQueue[int](numGoroutines * itemsPerGoroutine)
	defer q.Close()

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := 0; g < numGoroutines; g++ {
		go func(goroutineID int) {
			defer wg.Done()
			for i := 0; i < itemsPerGoroutine; i++ {
				q.Enqueue(goroutineID*100 + i)
			}
		}(g)
	}
	wg.Wait()

	received := 0
	for received < numGoroutines*itemsPerGoroutine {
		select {
		case <-out:
			received++
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout after %d items", received)
		}
	}
}
