package fn

import (
	"context"
	"sync"
)

// ParMap applies f to each item with at most workers concurrent calls.
// out[i] always holds the result for items[i], whatever order the calls
// finish in. Every item is processed; f is responsible for honoring ctx.
func ParMap[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) U) []U {
	out := make([]U, len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(ctx, v)
		}(i, v)
	}
	wg.Wait()
	return out
}
