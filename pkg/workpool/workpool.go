// Package workpool fans work out to a bounded set of goroutines inside one
// RequestData call. It never schedules pipeline nodes.
package workpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Run calls fn for every index in [0, n) using at most maxParallel workers.
// maxParallel <= 0 uses GOMAXPROCS. The first error cancels the context
// passed to the remaining calls and is returned; indexes not yet started are
// skipped.
func Run(ctx context.Context, n, maxParallel int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}

	// Determine worker count (min of maxParallel and number of items)
	workerCount := maxParallel
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	if n < workerCount {
		workerCount = n
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workQueue := make(chan int, n)
	for i := 0; i < n; i++ {
		workQueue <- i
	}
	close(workQueue)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				select {
				case <-ctx.Done():
					fail(ctx.Err())
					return
				default:
				}
				if err := fn(ctx, i); err != nil {
					fail(fmt.Errorf("item %d: %w", i, err))
					return
				}
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// Range is a half-open interval of indexes.
type Range struct {
	Start, End int
}

// Len returns the number of indexes in r.
func (r Range) Len() int { return r.End - r.Start }

// Split cuts [0, n) into at most parts contiguous ranges of near-equal size.
func Split(n, parts int) []Range {
	if n <= 0 {
		return nil
	}
	if parts <= 0 {
		parts = runtime.GOMAXPROCS(0)
	}
	parts = min(parts, n)
	out := make([]Range, parts)
	for i := range out {
		out[i] = Range{Start: n * i / parts, End: n * (i + 1) / parts}
	}
	return out
}

// ForEach applies fn to every index of [0, n), split into at most
// maxParallel ranges processed concurrently.
func ForEach(ctx context.Context, n, maxParallel int, fn func(i int)) error {
	ranges := Split(n, maxParallel)
	return Run(ctx, len(ranges), maxParallel, func(ctx context.Context, r int) error {
		for i := ranges[r].Start; i < ranges[r].End; i++ {
			if i%4096 == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			fn(i)
		}
		return nil
	})
}
