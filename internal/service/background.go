package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// TaskRunner runs work that must outlive the request that started it.
type TaskRunner struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

func NewTaskRunner(timeout time.Duration) *TaskRunner {
	return &TaskRunner{timeout: timeout}
}

// Go runs fn in its own goroutine on a context detached from ctx's
// cancellation but keeping its values. attrs are added to failure logs.
func (r *TaskRunner) Go(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...any) {
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		if err := r.run(ctx, fn); err != nil {
			slog.Error(name, append([]any{"error", err}, attrs...)...)
		}
	}()
}

func (r *TaskRunner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			slog.Error("background task panic", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started task returns or ctx is done.
func (r *TaskRunner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
