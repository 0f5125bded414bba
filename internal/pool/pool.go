// Package pool provides a fixed-size worker pool for independent, indexed
// tasks. Both the differentiation and the bootstrap engine schedule their
// evaluations through it: the mapping from task index to result slot is
// fixed by the caller, so output order does not depend on worker count.
package pool

import "sync"

// Map runs task(0) .. task(n-1) on at most workers goroutines and returns
// the first error encountered. With workers <= 1 the tasks run inline in the
// calling goroutine and Map returns on the first failure. With a pool, no
// new tasks are dispatched after a failure, but already running tasks finish
// before Map returns.
func Map(workers, n int, task func(i int) error) error {
	if n == 0 {
		return nil
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := task(i); err != nil {
				return err
			}
		}
		return nil
	}
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	errCh := make(chan error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := task(i); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	// Feed jobs until done or a worker has failed.
	var firstErr error
feed:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case firstErr = <-errCh:
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr == nil {
		select {
		case firstErr = <-errCh:
		default:
		}
	}
	return firstErr
}
