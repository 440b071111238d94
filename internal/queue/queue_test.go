package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushPopOrder(t *testing.T) {
	q := New[int]()
	var got []int
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			v, ok := q.Pop()
			if !ok {
				return
			}
			got = append(got, v)
		}
	}()

	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	q.SetLastItemPushed()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop loop did not drain in time")
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestQueue_PopReturnsFalseOnceDrainedAndLastPushed(t *testing.T) {
	q := New[int]()
	require.True(t, q.Push(1))
	q.SetLastItemPushed()

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_CloseFailsBlockedPush(t *testing.T) {
	q := New[int]()
	require.True(t, q.Push(1)) // fills the single slot

	pushDone := make(chan bool, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pushDone <- q.Push(2) // blocks: slot full
	}()

	// Give the goroutine a chance to block on the full slot.
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-pushDone:
		assert.False(t, ok, "push must fail once the queue is closed")
	case <-time.After(time.Second):
		t.Fatal("blocked push did not observe close")
	}
	wg.Wait()
}

func TestQueue_PushAfterCloseFailsImmediately(t *testing.T) {
	q := New[int]()
	q.Close()
	assert.False(t, q.Push(1))
}

func TestQueue_CapacityIsOne(t *testing.T) {
	q := New[int]()
	require.True(t, q.Push(1))

	second := make(chan bool, 1)
	go func() { second <- q.Push(2) }()

	select {
	case <-second:
		t.Fatal("second push must block while the single slot is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case ok := <-second:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after pop freed the slot")
	}
}
