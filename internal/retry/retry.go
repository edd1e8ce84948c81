// Package retry runs a single operation with bounded retries and
// exponential backoff.
//
// An execution moves through Attempting, Waiting, Succeeded and
// FailedTerminal. Cancellation, permanent errors, non-retryable errors and an
// exhausted budget all end in FailedTerminal without another attempt. The
// wait between attempts is interrupted as soon as the context is done.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy configures the retry budget and the delay schedule.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// Multiplier scales the delay after every retry. Must be >= 1.
	Multiplier float64
}

// DefaultPolicy returns 3 retries starting at 1s and doubling.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: time.Second, Multiplier: 2}
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("retry: max retries must be >= 0, got %d", p.MaxRetries)
	case p.InitialDelay <= 0:
		return fmt.Errorf("retry: initial delay must be positive, got %s", p.InitialDelay)
	case p.Multiplier < 1:
		return fmt.Errorf("retry: multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

// Delays returns the full wait schedule, one entry per retry.
func (p Policy) Delays() []time.Duration {
	out := make([]time.Duration, 0, max(p.MaxRetries, 0))
	d := p.InitialDelay
	for range p.MaxRetries {
		out = append(out, d)
		d = next(d, p.Multiplier)
	}
	return out
}

func next(d time.Duration, multiplier float64) time.Duration {
	return time.Duration(float64(d) * multiplier)
}

// State is a step of an execution.
type State int

const (
	Attempting State = iota
	Waiting
	Succeeded
	FailedTerminal
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Waiting:
		return "waiting"
	case Succeeded:
		return "succeeded"
	case FailedTerminal:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition is reported to Executor.OnTransition whenever the state changes.
type Transition struct {
	To      State
	Attempt int
	Delay   time.Duration // set when To is Waiting
	Err     error         // last operation error, if any
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the executor gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ExhaustedError is returned when every allowed attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Outcome summarizes an execution.
type Outcome struct {
	Attempts int
	Waited   time.Duration
}

// Executor applies a Policy to operations.
type Executor struct {
	Policy Policy

	// Retryable decides whether a failure may be retried. Nil means every
	// error that is not permanent and not a cancellation is retryable.
	Retryable func(error) bool

	// OnTransition, when set, is called synchronously on every state change.
	OnTransition func(Transition)

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an Executor for p.
func New(p Policy) *Executor {
	return &Executor{Policy: p}
}

func (e *Executor) notify(t Transition) {
	if e.OnTransition != nil {
		e.OnTransition(t)
	}
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) terminal(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}
	return e.Retryable != nil && !e.Retryable(err)
}

// Do runs op until it succeeds or the executor gives up. The returned error
// is the operation's error (possibly wrapped in *ExhaustedError), or, when the
// context ends during a wait, an error wrapping both the context error and
// the last operation error.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, Outcome, error) {
	var zero T
	var out Outcome

	if err := e.Policy.Validate(); err != nil {
		return zero, out, err
	}

	delay := e.Policy.InitialDelay
	for {
		out.Attempts++
		e.notify(Transition{To: Attempting, Attempt: out.Attempts})

		v, err := op(ctx)
		if err == nil {
			e.notify(Transition{To: Succeeded, Attempt: out.Attempts})
			return v, out, nil
		}

		if e.terminal(ctx, err) {
			e.notify(Transition{To: FailedTerminal, Attempt: out.Attempts, Err: err})
			return zero, out, err
		}
		if out.Attempts > e.Policy.MaxRetries {
			e.notify(Transition{To: FailedTerminal, Attempt: out.Attempts, Err: err})
			return zero, out, &ExhaustedError{Attempts: out.Attempts, Err: err}
		}

		e.notify(Transition{To: Waiting, Attempt: out.Attempts, Delay: delay, Err: err})
		if werr := e.wait(ctx, delay); werr != nil {
			e.notify(Transition{To: FailedTerminal, Attempt: out.Attempts, Err: werr})
			return zero, out, fmt.Errorf("retry wait interrupted: %w (last error: %w)", werr, err)
		}
		out.Waited += delay
		delay = next(delay, e.Policy.Multiplier)
	}
}
