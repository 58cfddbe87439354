package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueOrdering(t *testing.T) {
	q := NewQueue[int](5)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := q.Push(ctx, i); err != nil {
			t.Fatal(err)
		}
	}

	for want := 1; want <= 3; want++ {
		got, ok, err := q.Pop(ctx)
		if err != nil || !ok {
			t.Fatalf("Pop: ok=%v err=%v", ok, err)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestQueuePopTimeout(t *testing.T) {
	q := NewQueue[int](1)

	start := time.Now()
	_, ok, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("timeout should not error: %v", err)
	}
	if ok {
		t.Error("empty queue should time out with ok=false")
	}
	if elapsed := time.Since(start); elapsed < popTimeout {
		t.Errorf("pop returned after %s, want at least %s", elapsed, popTimeout)
	}
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue[int](1)
	ctx := context.Background()

	if err := q.Push(ctx, 1); err != nil {
		t.Fatal(err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(ctx, 2)
	}()

	select {
	case <-pushed:
		t.Fatal("push into a full queue should block")
	case <-time.After(100 * time.Millisecond):
	}

	if _, ok, err := q.Pop(ctx); !ok || err != nil {
		t.Fatalf("Pop: ok=%v err=%v", ok, err)
	}

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("blocked push failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked push did not complete after a pop")
	}
}

func TestQueuePushCancellation(t *testing.T) {
	q := NewQueue[int](1)
	q.Push(context.Background(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, 2)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled push did not return")
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[string](2)
	ctx := context.Background()

	q.Push(ctx, "a")
	q.Close()

	// Buffered item still drains after close
	item, ok, err := q.Pop(ctx)
	if err != nil || !ok || item != "a" {
		t.Fatalf("Pop after close: %q ok=%v err=%v", item, ok, err)
	}

	_, _, err = q.Pop(ctx)
	if !errors.Is(err, ErrQueueClosed) {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}
