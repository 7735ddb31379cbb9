package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsTasksInOrder(t *testing.T) {
	f := newFixture(t)
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	var mu sync.Mutex
	var order []int

	f.model.mu.Lock()
	kitchen := f.model.players["RINCON_K"]
	for i := 0; i < 10; i++ {
		i := i
		f.model.enqueueTask(kitchen, "step", func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	f.model.mu.Unlock()
	f.drain(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 10)
	for i, got := range order {
		require.Equal(t, i, got, "tasks must run in enqueue order")
	}
}

func TestDispatcherNeverOverlapsPerPlayer(t *testing.T) {
	f := newFixture(t)
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	var active, maxActive int32

	f.model.mu.Lock()
	kitchen := f.model.players["RINCON_K"]
	for i := 0; i < 8; i++ {
		f.model.enqueueTask(kitchen, "probe", func(context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		})
	}
	f.model.mu.Unlock()
	f.drain(t)

	require.Equal(t, int32(1), atomic.LoadInt32(&maxActive),
		"a player runs at most one task at a time")
}

func TestDispatchersOverlapAcrossPlayers(t *testing.T) {
	f := newFixture(t)
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	// Both tasks must be in flight at once to pass the barrier.
	barrier := make(chan struct{}, 2)
	proceed := make(chan struct{})

	f.model.mu.Lock()
	for _, uuid := range []string{"RINCON_K", "RINCON_H"} {
		p := f.model.players[uuid]
		f.model.enqueueTask(p, "rendezvous", func(context.Context) error {
			barrier <- struct{}{}
			<-proceed
			return nil
		})
	}
	f.model.mu.Unlock()

	for i := 0; i < 2; i++ {
		select {
		case <-barrier:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks for different players did not run concurrently")
		}
	}
	close(proceed)
	f.drain(t)
}

func TestDispatcherSwallowsTaskErrors(t *testing.T) {
	f := newFixture(t)
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	ran := make(chan struct{})
	f.model.mu.Lock()
	kitchen := f.model.players["RINCON_K"]
	f.model.enqueueTask(kitchen, "boom", func(context.Context) error {
		return context.DeadlineExceeded
	})
	f.model.enqueueTask(kitchen, "after", func(context.Context) error {
		close(ran)
		return nil
	})
	f.model.mu.Unlock()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("a failing task must not wedge the queue")
	}
	f.drain(t)
}
