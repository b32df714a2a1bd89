package intentqueue

import (
	"testing"
	"time"

	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intent(address string) fleet.ScalingIntent {
	return fleet.ScalingIntent{Kind: fleet.IntentUp, Host: fleet.Host{Address: address}}
}

func TestFIFOOrderingWithNoFrontPushes(t *testing.T) {
	q := New()
	q.PushBack(intent("a"))
	q.PushBack(intent("b"))
	q.PushBack(intent("c"))

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.PopFront()
		require.True(t, ok)
		assert.Equal(t, want, got.Host.Address)
	}
	assert.True(t, q.IsEmpty())
}

func TestPriorityFrontPushPrecedesBackPush(t *testing.T) {
	q := New()
	q.PushBack(intent("a"))
	q.PushFront(intent("b"))

	first, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "b", first.Host.Address)

	second, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "a", second.Host.Address)
}

func TestTryPopNonBlockingOnEmpty(t *testing.T) {
	q := New()
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestPopFrontBlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan fleet.ScalingIntent, 1)
	go func() {
		v, _ := q.PopFront()
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.PushBack(intent("late"))

	select {
	case v := <-done:
		assert.Equal(t, "late", v.Host.Address)
	case <-time.After(time.Second):
		t.Fatal("PopFront did not unblock after push")
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopFront()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock waiting PopFront")
	}
}
