package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"formhooks/internal/metrics"
)

var (
	ErrQueueFull      = errors.New("webhook task queue full")
	ErrExecutorClosed = errors.New("webhook executor closed")
)

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Executor runs short webhook tasks on a fixed pool of workers and
// I/O-bound ones on their own goroutines. Submitters never block and never
// see task failures: errors and panics end here.
type Executor struct {
	queue  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewExecutor starts workers goroutines consuming a queue of queueSize tasks.
func NewExecutor(workers, queueSize int, logger *slog.Logger) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		queue:  make(chan task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "webhook-executor")),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
	return e
}

// Submit enqueues fn without blocking.
func (e *Executor) Submit(name string, fn func(ctx context.Context) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	select {
	case e.queue <- task{name: name, run: fn}:
		metrics.WebhookQueueDepth.Set(float64(len(e.queue)))
		return nil
	default:
		metrics.WebhookTasks.WithLabelValues("dropped").Inc()
		e.logger.Warn("dropping webhook task, queue full", "task", name, "capacity", cap(e.queue))
		return ErrQueueFull
	}
}

// Go runs fn on a dedicated goroutine so a long network wait never holds a
// pool worker. Callers bound their own concurrency.
func (e *Executor) Go(name string, fn func(ctx context.Context) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTask(task{name: name, run: fn})
	}()
	return nil
}

func (e *Executor) work() {
	defer e.wg.Done()
	for t := range e.queue {
		metrics.WebhookQueueDepth.Set(float64(len(e.queue)))
		e.runTask(t)
	}
}

func (e *Executor) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WebhookTasks.WithLabelValues("panic").Inc()
			e.logger.Error("webhook task panicked", "task", t.name, "panic", fmt.Sprint(r))
		}
	}()
	if err := t.run(e.ctx); err != nil {
		metrics.WebhookTasks.WithLabelValues("error").Inc()
		e.logger.Error("webhook task failed", "task", t.name, "error", err)
		return
	}
	metrics.WebhookTasks.WithLabelValues("ok").Inc()
}

// Shutdown stops intake and lets workers drain the queue. If ctx ends first,
// in-flight tasks are cancelled and ctx.Err() is returned.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}
