// Package fanout implements C6: a bounded-concurrency executor that runs a
// batch of tasks against the upstream PMS, retrying transient failures with
// backoff while respecting per-task and batch-wide deadlines.
package fanout

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the terminal outcome of one task in a batch.
type Status string

const (
	StatusOK        Status = "ok"
	StatusErr       Status = "err"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Result is returned for every task, in the same order tasks were submitted.
type Result struct {
	Status   Status
	Data     any
	Err      error
	Duration time.Duration
	Attempts int
}

// Task is one unit of work. Run is called again on each retry with a fresh
// per-attempt context; Timeout overrides the Engine's default per-task
// timeout when non-zero (used by C7's progressive timeout policy).
type Task struct {
	Run     func(ctx context.Context) (any, error)
	Timeout time.Duration
}

// retryClassifier is implemented by internal/pms.Error; any error that
// doesn't implement it is treated as non-retryable (permanent).
type retryClassifier interface {
	Retryable() bool
}

// Engine is a reusable bounded-concurrency batch executor.
type Engine struct {
	maxConcurrency int
	perTaskTimeout time.Duration
	maxRetries     int
	backoffBase    time.Duration
}

// New creates an Engine. maxConcurrency bounds how many tasks run at once;
// perTaskTimeout is the default deadline for a single attempt; maxRetries
// caps retries of a retryable failure; backoffBase scales the exponential
// backoff between attempts (backoffBase * 2^attempt).
func New(maxConcurrency int, perTaskTimeout time.Duration, maxRetries int, backoffBase time.Duration) *Engine {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Engine{
		maxConcurrency: maxConcurrency,
		perTaskTimeout: perTaskTimeout,
		maxRetries:     maxRetries,
		backoffBase:    backoffBase,
	}
}

// Run executes tasks with bounded concurrency and returns one Result per
// task, preserving order. batchDeadline, if non-zero, bounds the whole
// batch; tasks still in flight when it expires are reported cancelled.
func (e *Engine) Run(ctx context.Context, tasks []Task, batchDeadline time.Duration) []Result {
	if batchDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, batchDeadline)
		defer cancel()
	}

	results := make([]Result, len(tasks))
	sem := make(chan struct{}, e.maxConcurrency)
	var wg sync.WaitGroup

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result{Status: StatusCancelled, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			results[i] = e.runOne(ctx, task)
		}()
	}
	wg.Wait()
	return results
}

func (e *Engine) runOne(ctx context.Context, task Task) Result {
	start := time.Now()
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.perTaskTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		data, err := task.Run(attemptCtx)
		cancel()

		if err == nil {
			return Result{Status: StatusOK, Data: data, Duration: time.Since(start), Attempts: attempt + 1}
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return Result{Status: StatusCancelled, Err: ctx.Err(), Duration: time.Since(start), Attempts: attempt + 1}
			}
			if attempt == e.maxRetries {
				return Result{Status: StatusTimeout, Err: err, Duration: time.Since(start), Attempts: attempt + 1}
			}
		} else if !retryable(err) || attempt == e.maxRetries {
			return Result{Status: StatusErr, Err: err, Duration: time.Since(start), Attempts: attempt + 1}
		}

		if ctx.Err() != nil {
			return Result{Status: StatusCancelled, Err: ctx.Err(), Duration: time.Since(start), Attempts: attempt + 1}
		}

		backoff := e.backoffBase * time.Duration(uint64(1)<<uint(attempt))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Result{Status: StatusCancelled, Err: ctx.Err(), Duration: time.Since(start), Attempts: attempt + 1}
		}
	}
	return Result{Status: StatusErr, Err: lastErr, Duration: time.Since(start), Attempts: e.maxRetries + 1}
}

func retryable(err error) bool {
	var c retryClassifier
	if errors.As(err, &c) {
		return c.Retryable()
	}
	return false
}

// Progressive per-task timeouts for C7's multi-day availability probes:
// nearer dates have cached answers more often, so they get a shorter
// timeout before falling back to retry.
const (
	EarlyTimeout = 8 * time.Second  // 0-2 days ahead
	MidTimeout   = 12 * time.Second // 3-6 days ahead
	LateTimeout  = 15 * time.Second // 7+ days ahead
)

// ProgressiveTimeout returns the per-task timeout for a candidate date
// daysAhead days from today.
func ProgressiveTimeout(daysAhead int) time.Duration {
	switch {
	case daysAhead <= 2:
		return EarlyTimeout
	case daysAhead <= 6:
		return MidTimeout
	default:
		return LateTimeout
	}
}
