package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[string]()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.Push(id))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, q.Len())
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[int]()
	got := make(chan int, 1)

	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("pop returned before any push")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueue_PopAfterCancelLeavesItems(t *testing.T) {
	q := New[string]()
	q.Push("job-1")
	q.Push("job-2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_PushNeverBlocks(t *testing.T) {
	q := New[int]()
	done := make(chan struct{})

	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked without a consumer")
	}
	assert.Equal(t, 10000, q.Len())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	ctx := context.Background()
	for i := 0; i < 800; i++ {
		_, err := q.Pop(ctx)
		require.NoError(t, err)
	}
	assert.Zero(t, q.Len())
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := New[string]()
	q.Push("last")
	q.Close()

	assert.False(t, q.Push("rejected"))

	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "last", v)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
