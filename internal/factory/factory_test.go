package factory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunBackground_ClosesAfterEveryTaskReturns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var finished atomic.Int32
	slow := func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
	}
	fast := func(ctx context.Context) {
		<-ctx.Done()
		finished.Add(1)
	}

	done := runBackground(ctx, slow, fast)

	select {
	case <-done:
		t.Fatal("done closed before cancellation")
	case <-time.After(10 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done never closed")
	}
	if finished.Load() != 2 {
		t.Fatalf("expected both tasks to finish first, got %d", finished.Load())
	}
}

func TestRunBackground_NoTasks(t *testing.T) {
	select {
	case <-runBackground(context.Background()):
	case <-time.After(time.Second):
		t.Fatal("done should close immediately without tasks")
	}
}
