package coldstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultRetry builds a RetryFunc off an exponential backoff capped at
// maxElapsed, matching the retry/backoff shape §4.2 calls for around
// transient database errors ("connection reset", deadlock victim, etc).
// Errors that classify does not count as transient (constraint
// violations, no rows, a missing burn) are returned at once, unretried.
func DefaultRetry(maxElapsed time.Duration) RetryFunc {
	return func(ctx context.Context, op func() error) error {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			if err := op(); err != nil {
				if !classify(err) {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}
			return struct{}{}, nil
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(maxElapsed))
		return err
	}
}
