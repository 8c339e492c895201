package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// TaskGroup runs fire-and-forget work that a shutdown can wait for.
type TaskGroup struct {
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewTaskGroup(logger *zap.Logger) *TaskGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskGroup{log: logger, ctx: ctx, cancel: cancel}
}

// Go starts fn unless the group is shutting down. A panic in fn is logged, not propagated.
func (g *TaskGroup) Go(name string, fn func(ctx context.Context)) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.log.Warn("task_rejected_shutting_down", zap.String("task", name))
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("task_panic", zap.String("task", name), zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		fn(g.ctx)
	}()
	return true
}

// Wait blocks until every started task has returned.
func (g *TaskGroup) Wait() { g.wg.Wait() }

// Shutdown stops accepting tasks and waits for running ones. When ctx expires first
// the tasks' context is cancelled and ctx.Err() is returned once they have exited.
func (g *TaskGroup) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}
