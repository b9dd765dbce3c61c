package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWriterCoalescesBurstIntoOneWrite(t *testing.T) {
	var writes int32
	w := New(10*time.Millisecond, func() { atomic.AddInt32(&writes, 1) })
	defer w.Close()

	for i := 0; i < 20; i++ {
		w.Enqueue()
	}
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&writes); got != 1 {
		t.Fatalf("expected exactly 1 coalesced write, got %d", got)
	}
}

func TestWriterFlushesPendingWriteOnClose(t *testing.T) {
	var writes int32
	w := New(time.Hour, func() { atomic.AddInt32(&writes, 1) }) // window long enough it would never fire on its own
	w.Enqueue()
	w.Close()

	if got := atomic.LoadInt32(&writes); got != 1 {
		t.Fatalf("expected pending write to be flushed on close, got %d", got)
	}
}

func TestWriterNoWriteWithoutEnqueue(t *testing.T) {
	var writes int32
	w := New(5*time.Millisecond, func() { atomic.AddInt32(&writes, 1) })
	time.Sleep(30 * time.Millisecond)
	w.Close()

	if got := atomic.LoadInt32(&writes); got != 0 {
		t.Fatalf("expected no write when never enqueued, got %d", got)
	}
}

func TestWriterSecondBurstAfterFirstWriteCompletes(t *testing.T) {
	var writes int32
	w := New(5*time.Millisecond, func() { atomic.AddInt32(&writes, 1) })
	defer w.Close()

	w.Enqueue()
	time.Sleep(30 * time.Millisecond)
	w.Enqueue()
	time.Sleep(30 * time.Millisecond)

	if got := atomic.LoadInt32(&writes); got != 2 {
		t.Fatalf("expected 2 separate writes for 2 separated bursts, got %d", got)
	}
}
