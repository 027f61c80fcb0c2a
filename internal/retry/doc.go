// Package retry runs discrete operations with exponential backoff.
//
// Do executes an operation once and, on failure, retries it while the
// attempt budget lasts and the caller's ShouldRetry predicate agrees. The wait
// before retry n (zero-indexed) is Delay * 2^n:
//
//	result, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) (Status, error) {
//	    return client.Status(ctx)
//	})
//
// Every error returned by Do is an *apperr.Error. The long-lived event stream
// does not use this package; its reconnect policy is a fixed interval owned by
// the connection manager.
package retry
