// Package parallel distributes per-plane volume work over a fixed set of goroutines.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

// ForEach calls fn(i) for every i in [0, n) using up to workers goroutines.
// Work stops being handed out once ctx is cancelled and ctx.Err() is returned.
// A workers value below 1 means runtime.NumCPU().
func ForEach(ctx context.Context, n, workers int, fn func(i int)) error {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}

	order := make(chan int, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range order {
				fn(i)
			}
		}()
	}

	var err error
	for i := 0; i < n; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case order <- i:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}
	close(order)
	wg.Wait()

	return err
}
