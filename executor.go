package knnquery

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of per-leaf work.
type Task func(ctx context.Context) error

// Executor runs the per-leaf tasks of a query and waits for all of them.
// The first error is returned; the context passed to the remaining tasks
// is then cancelled.
type Executor interface {
	Execute(ctx context.Context, tasks []Task) error
}

// PoolExecutor runs tasks on goroutines, at most limit at a time.
type PoolExecutor struct {
	limit int
}

// NewPoolExecutor creates an executor. limit <= 0 means unbounded.
func NewPoolExecutor(limit int) *PoolExecutor {
	return &PoolExecutor{limit: limit}
}

// Execute implements Executor.
func (p *PoolExecutor) Execute(ctx context.Context, tasks []Task) error {
	if len(tasks) == 1 {
		return tasks[0](ctx)
	}
	g, gctx := errgroup.WithContext(ctx)
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for _, t := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return t(gctx)
		})
	}
	return g.Wait()
}

// SerialExecutor runs tasks one after another on the calling goroutine.
type SerialExecutor struct{}

// Execute implements Executor.
func (SerialExecutor) Execute(ctx context.Context, tasks []Task) error {
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t(ctx); err != nil {
			return err
		}
	}
	return nil
}
