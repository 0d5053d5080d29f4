// Package workerpool runs independent work items with bounded parallelism.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Config configures the worker pool.
type Config struct {
	MaxConcurrent int // Maximum concurrently executing items (default: GOMAXPROCS)
}

// DefaultConfig sizes the pool to the available CPUs.
func DefaultConfig() Config {
	return Config{MaxConcurrent: runtime.GOMAXPROCS(0)}
}

// Pool bounds how many work items run at once. A semaphore limits outstanding
// items and results are collected as they complete, so a slow item never holds
// back the start of the next one.
type Pool struct {
	config Config
	logger *zap.Logger
}

// New creates a worker pool.
func New(config Config, logger *zap.Logger) *Pool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Pool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// Size returns the maximum number of concurrently executing items.
func (p *Pool) Size() int {
	return p.config.MaxConcurrent
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism.
// Returns results in completion order (not submission order).
// Continues processing all items even if some fail; a panicking item is reported
// as that item's error.
func Process[T any](
	ctx context.Context,
	pool *Pool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], 0, len(items))
	resultsChan := make(chan WorkResult[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		go func(item WorkItem[T]) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultsChan <- WorkResult[T]{ID: item.ID, Err: ctx.Err()}
				return
			}

			resultsChan <- execute(ctx, pool.logger, item)
		}(item)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	completed := 0
	for result := range resultsChan {
		results = append(results, result)
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	return results
}

func execute[T any](ctx context.Context, logger *zap.Logger, item WorkItem[T]) (res WorkResult[T]) {
	res.ID = item.ID
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Work item panicked",
				zap.String("item_id", item.ID),
				zap.Any("panic", r))
			res.Err = fmt.Errorf("work item %s panicked: %v", item.ID, r)
		}
	}()
	res.Result, res.Err = item.Execute(ctx)
	return res
}

// FirstError returns the first failed result's error, wrapped with its item id.
func FirstError[T any](results []WorkResult[T]) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%s: %w", r.ID, r.Err)
		}
	}
	return nil
}
