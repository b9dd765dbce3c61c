// Package debounce implements the coalesced-write pattern used by the
// plan store and the Drake task-file writer (§4.5 "write debouncing"):
// state-changing operations enqueue on a single-slot channel; a
// background writer drains it, sleeps to absorb bursts, then performs
// one write. On shutdown the pending write is flushed.
package debounce

import (
	"sync"
	"time"
)

// DefaultCoalesceWindow is the §4.5 default burst-absorption sleep.
const DefaultCoalesceWindow = 2 * time.Second

// Writer coalesces repeated "save now" signals into a single write per
// burst. WriteFunc is called with no concurrent overlap — the writer
// goroutine always awaits one call to finish before starting the next.
type Writer struct {
	signal  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	write   func()
	window  time.Duration
	sleeper func(time.Duration)
}

// New starts a Writer's background goroutine. write is invoked at most
// once per coalescing window, and at least once more after the last
// signal seen before Close.
func New(window time.Duration, write func()) *Writer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	w := &Writer{
		signal:  make(chan struct{}, 1), // single slot: extra signals are dropped, not queued
		done:    make(chan struct{}),
		write:   write,
		window:  window,
		sleeper: time.Sleep,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue signals that a write is needed. Non-blocking: if a write is
// already pending, this is a no-op (the single slot is full).
func (w *Writer) Enqueue() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.signal:
			w.sleeper(w.window)
			// Drain any signal that arrived during the sleep so a burst
			// collapses into this one write.
			select {
			case <-w.signal:
			default:
			}
			w.write()
		case <-w.done:
			// Flush a final pending write, if any, before exiting.
			select {
			case <-w.signal:
				w.write()
			default:
			}
			return
		}
	}
}

// Close stops the writer, flushing any pending write first (§4.5: "on
// shutdown the pending write is flushed").
func (w *Writer) Close() {
	close(w.done)
	w.wg.Wait()
}
