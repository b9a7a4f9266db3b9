// Package retry provides the single-repair retry combinator used around
// calls to external APIs.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Call performs one attempt of an operation.
type Call[T any] func(ctx context.Context) (T, error)

// RepairOnce runs call. If it fails with an error for which recoverable
// returns true, repair runs once and call is retried once. The retry's
// outcome is returned as is. A repair failure is returned instead of the
// original error. Any other failure is returned immediately.
func RepairOnce[T any](
	ctx context.Context,
	call Call[T],
	recoverable func(error) bool,
	repair func(ctx context.Context, cause error) error,
) (T, error) {
	var (
		result   T
		repaired bool
	)
	backoff := goretry.WithMaxRetries(1, goretry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	}))

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := call(ctx)
		if err == nil {
			result = r
			return nil
		}
		if repaired || !recoverable(err) {
			return err
		}
		repaired = true
		if rerr := repair(ctx, err); rerr != nil {
			return rerr
		}
		return goretry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
