package par

import (
	"context"
	"sync"
)

// Work runs a set of items in parallel, each at most once. Items are
// started in the order they were added. The items must be valid map keys.
type Work[T comparable] struct {
	f       func(context.Context, T)
	running int

	mu      sync.Mutex
	added   map[T]bool
	todo    []T
	skipped []T
	wait    sync.Cond
	waiting int
}

func (w *Work[T]) init() {
	if w.added == nil {
		w.added = make(map[T]bool)
	}
}

// Add adds item to the work set if it hasn't already been added. It may be
// called from f while Do is running.
func (w *Work[T]) Add(item T) {
	w.mu.Lock()
	w.init()
	if !w.added[item] {
		w.added[item] = true
		w.todo = append(w.todo, item)
		if w.waiting > 0 {
			w.wait.Signal()
		}
	}
	w.mu.Unlock()
}

// Do runs f on the items of the work set with at most n invocations in
// flight, and returns once every item has been processed. Items not yet
// started when ctx is done are skipped rather than run; see Skipped.
// Do should only be called once on a given Work.
func (w *Work[T]) Do(ctx context.Context, n int, f func(ctx context.Context, item T)) {
	if n < 1 {
		panic("par.Work.Do: n < 1")
	}
	if w.running >= 1 {
		panic("par.Work.Do: already called Do")
	}

	w.mu.Lock()
	w.init()
	w.running = n
	w.f = f
	w.wait.L = &w.mu
	w.mu.Unlock()

	for i := 0; i < n-1; i++ {
		go w.runner(ctx)
	}
	w.runner(ctx)
}

// runner executes work in w until nothing is left to do and all the
// runners are waiting for work.
func (w *Work[T]) runner(ctx context.Context) {
	for {
		w.mu.Lock()
		for len(w.todo) == 0 {
			w.waiting++
			if w.waiting == w.running {
				// All done.
				w.wait.Broadcast()
				w.mu.Unlock()
				return
			}
			w.wait.Wait()
			w.waiting--
		}
		item := w.todo[0]
		w.todo = w.todo[1:]
		if ctx.Err() != nil {
			w.skipped = append(w.skipped, item)
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		w.f(ctx, item)
	}
}

// Skipped returns the items that were never started because the context
// passed to Do was done.
func (w *Work[T]) Skipped() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]T(nil), w.skipped...)
}
