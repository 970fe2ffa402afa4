// Package outbound runs best-effort side effects (ledger mirroring, archive
// uploads) off the request path. Tasks are queued, executed by a small worker
// pool and retried with exponential backoff. Nothing waits for them.
package outbound

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Task is one unit of outbound work. Run is retried until it returns nil, a
// Permanent error, or the retry budget is spent.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// Enqueuer is what services depend on.
type Enqueuer interface {
	Enqueue(t Task) bool
}

type Dispatcher struct {
	queue      chan Task
	workers    int
	maxRetries uint64
	base       time.Duration
	logger     logging.Logger
	wg         sync.WaitGroup
}

func NewDispatcher(logger logging.Logger, workers, queueSize int, maxRetries uint64, base time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &Dispatcher{
		queue:      make(chan Task, queueSize),
		workers:    workers,
		maxRetries: maxRetries,
		base:       base,
		logger:     logger,
	}
}

// Enqueue never blocks. When the queue is full the task is dropped and false
// is returned.
func (d *Dispatcher) Enqueue(t Task) bool {
	select {
	case d.queue <- t:
		return true
	default:
		d.logger.Warn(context.Background(), "outbound queue full, task dropped", "task", t.Name)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned. Tasks still queued at that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info(ctx, "outbound dispatcher started", "workers", d.workers)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.wg.Wait()

	d.logger.Info(context.Background(), "outbound dispatcher stopped", "dropped", len(d.queue))
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			d.execute(ctx, t)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, t Task) {
	attempts := 0
	b := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(d.base))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := t.Run(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		d.logger.Debug(ctx, "outbound task attempt failed", "task", t.Name, "attempt", attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		d.logger.Warn(ctx, "outbound task failed", "task", t.Name, "attempts", attempts, "error", err)
		return
	}
	d.logger.Debug(ctx, "outbound task done", "task", t.Name, "attempts", attempts)
}
