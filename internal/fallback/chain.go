package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"wbgate-go/internal/apierr"
)

// Candidate pairs a target identifier with optional per-target configuration.
type Candidate[O any] struct {
	ID      string
	Options O
}

// AttemptFunc performs one attempt against a candidate. The ctx it receives
// already carries the per-attempt deadline.
type AttemptFunc[T, O any] func(ctx context.Context, c Candidate[O]) (T, error)

// Options tunes chain behavior.
type Options struct {
	// PerAttemptTimeout bounds each candidate so one hung target cannot block
	// the whole chain. 0 means no per-attempt bound.
	PerAttemptTimeout time.Duration
	// AdvanceOn decides whether a failure moves the chain to the next
	// candidate or aborts immediately. Nil means DefaultAdvanceOn.
	AdvanceOn func(error) bool
}

// Failure records why one candidate was passed over.
type Failure struct {
	Candidate string
	Reason    error
}

// ChainError aggregates the ordered failures of an exhausted chain.
type ChainError struct {
	Failures []Failure
}

func (e *ChainError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Candidate, f.Reason)
	}
	return "all candidates failed: " + strings.Join(parts, "; ")
}

// Outcome is a successful invocation: which candidate won and its value.
type Outcome[T any] struct {
	Candidate string
	Value     T
}

// DefaultAdvanceOn moves past candidates that look unavailable (connection
// failures, timeouts, 5xx, 429) and aborts on everything else. A malformed
// request fails identically on every candidate, so other 4xx responses
// short-circuit to the caller instead of advancing.
func DefaultAdvanceOn(err error) bool {
	switch apierr.KindOf(err) {
	case apierr.KindConnection, apierr.KindTimeout, apierr.KindEndpointsExhausted:
		return true
	case apierr.KindHTTP, apierr.KindUnauthenticated:
		status := apierr.StatusOf(err)
		return status == 429 || status >= 500
	case apierr.KindCancelled:
		return false
	}
	// Unclassified errors advance; the next candidate may be healthy.
	return true
}

// AdvanceAlways never aborts early.
func AdvanceAlways(error) bool { return true }

// Invoke tries candidates in order and returns the first success. The chain
// short-circuits on success: later candidates are never attempted. If every
// candidate fails the ordered failures come back as a *ChainError.
func Invoke[T, O any](ctx context.Context, candidates []Candidate[O], attempt AttemptFunc[T, O], opts Options) (Outcome[T], error) {
	var zero Outcome[T]
	if len(candidates) == 0 {
		return zero, fmt.Errorf("fallback: no candidates")
	}
	advanceOn := opts.AdvanceOn
	if advanceOn == nil {
		advanceOn = DefaultAdvanceOn
	}

	var failures []Failure
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, apierr.MapNetworkError(err)
		}

		value, err := runAttempt(ctx, c, attempt, opts.PerAttemptTimeout)
		if err == nil {
			return Outcome[T]{Candidate: c.ID, Value: value}, nil
		}

		failures = append(failures, Failure{Candidate: c.ID, Reason: err})
		if !advanceOn(err) {
			log.Debugf("fallback: %s failed non-retriably: %v", c.ID, err)
			return zero, err
		}
		log.Debugf("fallback: %s failed, trying next candidate: %v", c.ID, err)
	}

	return zero, &ChainError{Failures: failures}
}

// runAttempt executes one attempt under its own deadline. A timed-out attempt
// is abandoned: its goroutine writes into a buffered channel nobody reads, so
// a late completion can never affect a chain that has moved on.
func runAttempt[T, O any](ctx context.Context, c Candidate[O], attempt AttemptFunc[T, O], timeout time.Duration) (T, error) {
	var zero T
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := attempt(attemptCtx, c)
		ch <- result{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-attemptCtx.Done():
		return zero, apierr.MapNetworkError(attemptCtx.Err())
	}
}
