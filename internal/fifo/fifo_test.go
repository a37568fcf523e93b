package fifo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 200; i++ {
		q.Push(i)
	}
	for i := 0; i < 200; i++ {
		v, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() at %d returned empty", i)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)

	go func() {
		v, err := q.Pop(context.Background())
		if err != nil {
			t.Errorf("Pop() failed: %v", err)
			return
		}
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("expected hello, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after Push()")
	}
}

func TestQueue_PopContextCancelled(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestQueue_CloseDrainsPending(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	if q.Push(3) {
		t.Error("expected Push() on closed queue to report false")
	}

	for _, want := range []int{1, 2} {
		v, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop() failed: %v", err)
		}
		if v != want {
			t.Errorf("expected %d, got %d", want, v)
		}
	}

	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestQueue_DrainN(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	got := q.DrainN(3)
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("unexpected drain result: %v", got)
	}
	if q.Len() != 2 {
		t.Errorf("expected 2 remaining, got %d", q.Len())
	}

	got = q.DrainN(10)
	if len(got) != 2 || got[0] != 3 {
		t.Fatalf("unexpected drain result: %v", got)
	}
	if q.DrainN(1) != nil {
		t.Error("expected nil drain on empty queue")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool, producers*perProducer)
	lastByProducer := make(map[int]int)
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		if seen[v] {
			t.Fatalf("duplicate item %d", v)
		}
		seen[v] = true

		// Items from one producer keep their relative order.
		p := v / perProducer
		if last, ok := lastByProducer[p]; ok && v < last {
			t.Fatalf("producer %d out of order: %d after %d", p, v, last)
		}
		lastByProducer[p] = v
	}
	if len(seen) != producers*perProducer {
		t.Errorf("expected %d items, got %d", producers*perProducer, len(seen))
	}
}
