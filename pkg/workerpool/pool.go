// Package workerpool runs independent units of work with bounded parallelism.
// It backs the existence probes fired against Oracle while choosing date and
// label columns.
package workerpool

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config configures the pool.
type Config struct {
	MaxConcurrent int // Maximum concurrent work items (default: 4)
}

// DefaultConfig returns the default pool size. Probes share one Oracle
// pool with query execution, so the default stays small.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 4}
}

// Pool bounds concurrent execution of work items.
type Pool struct {
	config Config
	logger *zap.Logger
}

// New creates a pool.
func New(config Config, logger *zap.Logger) *Pool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// Item is a unit of work.
type Item[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// Result is the outcome of one Item.
type Result[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all items with bounded parallelism and returns results in
// submission order. A failing item does not stop the others. Items not yet
// started when ctx ends report ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *Pool,
	items []Item[T],
	onProgress func(completed, total int),
) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]Result[T], len(items))
	var completed atomic.Int32

	var g errgroup.Group
	g.SetLimit(pool.config.MaxConcurrent)

	for i, item := range items {
		results[i].ID = item.ID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
			} else {
				results[i].Result, results[i].Err = item.Execute(ctx)
			}
			if results[i].Err != nil {
				pool.logger.Debug("Work item failed",
					zap.String("id", item.ID),
					zap.Error(results[i].Err))
			}
			if onProgress != nil {
				onProgress(int(completed.Add(1)), len(items))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// FirstMatch runs all items and returns the index of the earliest item (in
// submission order) whose result satisfies match, or -1. Failed items never match.
func FirstMatch[T any](ctx context.Context, pool *Pool, items []Item[T], match func(T) bool) int {
	for i, r := range Process(ctx, pool, items, nil) {
		if r.Err == nil && match(r.Result) {
			return i
		}
	}
	return -1
}
