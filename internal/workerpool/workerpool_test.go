package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/netcore/internal/workerpool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSpawnRunsAndStops(t *testing.T) {
	var running atomic.Bool

	h := workerpool.Spawn(context.Background(), 0, func(ctx context.Context) {
		running.Store(true)
		<-ctx.Done()
		running.Store(false)
	})

	deadline := time.Now().Add(time.Second)
	for !running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !running.Load() {
		t.Fatal("goroutine never started")
	}

	h.Release()

	if running.Load() {
		t.Fatal("goroutine still marked running after Release")
	}
}

func TestHandleWaitBlocksUntilReturn(t *testing.T) {
	done := make(chan struct{})

	h := workerpool.Spawn(context.Background(), 0, func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	h.Stop()
	h.Wait()

	select {
	case <-done:
	default:
		t.Fatal("Wait returned before goroutine body finished")
	}
}

func TestCleanupStackRunsLIFO(t *testing.T) {
	var order []int
	var stack workerpool.CleanupStack

	stack.Push(func() { order = append(order, 1) })
	stack.Push(func() { order = append(order, 2) })
	stack.Push(func() { order = append(order, 3) })

	stack.Unwind()

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCleanupStackUnwindIsIdempotentlyEmpty(t *testing.T) {
	var calls int
	var stack workerpool.CleanupStack

	stack.Push(func() { calls++ })
	stack.Unwind()
	stack.Unwind()

	if calls != 1 {
		t.Fatalf("cleanup ran %d times, want 1", calls)
	}
}
