package queue

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	q.Put(1)
	q.PutMany([]int{2, 3})

	for want := 1; want <= 3; want++ {
		got, ok := q.GetNext()
		if !ok || got != want {
			t.Fatalf("GetNext() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if !q.IsEmpty() {
		t.Error("queue not empty after draining")
	}
}

func TestQueue_PeekDoesNotConsume(t *testing.T) {
	q := New[string]()
	q.Put("head")

	if got, ok := q.Peek(); !ok || got != "head" {
		t.Fatalf("Peek() = %q, %v", got, ok)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d after Peek, want 1", q.Len())
	}
}

func TestQueue_GetNextBlocksUntilPut(t *testing.T) {
	q := New[int]()

	done := make(chan int)
	go func() {
		v, _ := q.GetNext()
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Put(42)

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("GetNext() = %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("GetNext() did not return after Put")
	}
}

func TestQueue_WakeUpReleasesAllWaiters(t *testing.T) {
	q := New[int]()

	const waiters = 4
	var wg sync.WaitGroup
	results := make(chan bool, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.GetNext()
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.WakeUp()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("WakeUp did not release every waiter")
	}

	close(results)
	for ok := range results {
		if ok {
			t.Error("woken waiter reported an element on an empty queue")
		}
	}
}

func TestQueue_GetNextWithTimeout(t *testing.T) {
	q := New[int]()

	start := time.Now()
	_, ok := q.GetNextWithTimeout(30 * time.Millisecond)
	if ok {
		t.Error("timed-out read reported an element")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, expected to wait for the timeout", elapsed)
	}

	q.Put(7)
	if v, ok := q.GetNextWithTimeout(time.Second); !ok || v != 7 {
		t.Errorf("GetNextWithTimeout() = %d, %v; want 7, true", v, ok)
	}
}
