package storage

import (
	"errors"
	"sync"
)

// maxTransferWorkers bounds the number of objects moved concurrently by the
// directory transfers.
const maxTransferWorkers = 8

type transferResult[T any] struct {
	Item  T
	Error error
}

// runTransfers calls transfer for every item using at most maxWorkers
// goroutines. All items are attempted; the errors of failed items are joined.
func runTransfers[T any](items []T, maxWorkers int, transfer func(T) error) error {
	if len(items) == 0 {
		return nil
	}

	queue := make(chan T, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	completed := make(chan transferResult[T], len(items))

	workers := min(len(items), max(maxWorkers, 1))

	wg := sync.WaitGroup{}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for item := range queue {
				completed <- transferResult[T]{Item: item, Error: transfer(item)}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(completed)
	}()

	var errs []error
	for result := range completed {
		if result.Error != nil {
			errs = append(errs, result.Error)
		}
	}

	return errors.Join(errs...)
}
