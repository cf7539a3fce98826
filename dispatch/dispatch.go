// Package dispatch runs fire-and-forget tasks detached from the code that
// started them. Callers never wait for a task; its outcome is logged by the
// task itself.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Halunen/GiveawayTracker/telemetry"
)

// DefaultMaxInflight bounds concurrently running tasks when unset.
const DefaultMaxInflight = 8

// Pool runs each dispatched task on its own goroutine, at most maxInflight at
// once. Tasks beyond the limit wait for a slot on their own goroutine, so
// Dispatch never blocks.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool creates a pool allowing maxInflight concurrent tasks.
func NewPool(maxInflight int) *Pool {
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	slog.Info("dispatch pool initialized", slog.Int("max_inflight", maxInflight))
	return &Pool{slots: make(chan struct{}, maxInflight)}
}

// Dispatch starts fn with a context that keeps ctx's values but not its
// cancellation, so a finished request does not abort the task.
func (p *Pool) Dispatch(ctx context.Context, name string, fn func(ctx context.Context)) {
	taskCtx := context.WithoutCancel(ctx)
	telemetry.IncDispatched(name)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.slots <- struct{}{}
		telemetry.AddInflight(1)
		defer func() {
			<-p.slots
			telemetry.AddInflight(-1)
			if r := recover(); r != nil {
				telemetry.IncDispatchPanic()
				slog.Error("dispatched task panicked", slog.String("task", name), slog.Any("panic", r))
			}
		}()
		fn(taskCtx)
	}()
}

// Active returns how many tasks hold a slot.
func (p *Pool) Active() int { return len(p.slots) }

// Limit returns the configured concurrency limit.
func (p *Pool) Limit() int { return cap(p.slots) }

// Wait blocks until every dispatched task has returned or ctx is done.
// It returns ctx.Err() if tasks were still running.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
