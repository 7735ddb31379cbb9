// Package retry provides the bounded retry and write-then-verify primitives
// used for every device call. Device RPCs are fire-and-forget at the wire
// level, so a mutating call is never trusted until a verify poll confirms
// the device actually reached the requested state.
package retry

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
)

// Escalation selects what happens when all retries are exhausted.
type Escalation int

const (
	// Escalate returns the first error to the caller.
	Escalate Escalation = iota
	// Fatal invokes the process fatal handler. Used for startup-critical
	// calls where continuing in an unknown state is worse than restarting.
	Fatal
	// Safe logs the error and reports success with the zero value. Used
	// for best-effort background calls.
	Safe
)

// Options controls a retried action.
type Options struct {
	Retries     int           // total attempts, default 3
	Timeout     time.Duration // per-attempt timeout, default 5s
	Delay       time.Duration // pause between attempts, default 1s
	OnExhausted Escalation
	Logger      *log.Logger
	Name        string // used in log messages

	// sleep is injectable for tests.
	sleep func(context.Context, time.Duration) error
}

// FatalHandler is called when a Fatal-classified retry exhausts. Tests may
// swap it out; the default logs and terminates the process.
var FatalHandler = func(err error) {
	log.Fatalf("fatal error: %v", err)
}

func (o *Options) withDefaults() {
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Delay <= 0 {
		o.Delay = time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Name == "" {
		o.Name = "action"
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
}

// Do executes action with bounded retries. Each attempt races against the
// per-attempt timeout. Programmer errors propagate immediately without
// further attempts. On exhaustion the escalation mode decides the outcome;
// the error returned is the one from the first failed attempt, which is
// usually the most informative.
func Do(ctx context.Context, action func(context.Context) error, opts Options) error {
	opts.withDefaults()

	var first error
	for attempt := 0; attempt < opts.Retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		err := action(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if apperrors.IsProgrammer(err) {
			return err
		}
		if first == nil {
			first = err
		}
		opts.Logger.Printf("RETRY: %s attempt %d/%d failed: %v", opts.Name, attempt+1, opts.Retries, err)

		if attempt < opts.Retries-1 {
			if err := opts.sleep(ctx, opts.Delay); err != nil {
				break
			}
		}
	}

	switch opts.OnExhausted {
	case Safe:
		opts.Logger.Printf("RETRY: %s failed, ignoring: %v", opts.Name, first)
		return nil
	case Fatal:
		FatalHandler(first)
		return first
	default:
		return first
	}
}

// DoValue is Do for actions producing a value. Under Safe escalation the
// zero value is returned alongside a nil error.
func DoValue[T any](ctx context.Context, action func(context.Context) (T, error), opts Options) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = action(ctx)
		if err != nil {
			var zero T
			result = zero
		}
		return err
	}, opts)
	return result, err
}

// VerifyOptions controls a verify poll.
type VerifyOptions struct {
	Retries int           // poll count, default 10
	Delay   time.Duration // pause between polls, default 300ms

	sleep func(context.Context, time.Duration) error
}

// Verify polls predicate until it reports true or the poll budget runs out.
// The returned error names the awaited condition so a verification failure
// is distinguishable from a transport failure.
func Verify(ctx context.Context, condition string, predicate func() bool, opts VerifyOptions) error {
	if opts.Retries <= 0 {
		opts.Retries = 10
	}
	if opts.Delay <= 0 {
		opts.Delay = 300 * time.Millisecond
	}
	if opts.sleep == nil {
		opts.sleep = sleepCtx
	}

	for attempt := 0; attempt < opts.Retries; attempt++ {
		if predicate() {
			return nil
		}
		if attempt < opts.Retries-1 {
			if err := opts.sleep(ctx, opts.Delay); err != nil {
				return err
			}
		}
	}
	return &apperrors.VerifyError{Condition: condition, Attempts: opts.Retries}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsContextErr reports whether err is a context cancellation or deadline.
func IsContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
