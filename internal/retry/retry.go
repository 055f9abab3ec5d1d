// Package retry implements bounded sleep-and-recheck polling. It is the
// only looping construct used for waiting on remote state: reachability
// after a reboot, device files materializing, a port starting to listen.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks errors returned when the wall-clock budget elapsed
// before the probe succeeded.
var ErrTimeout = errors.New("timeout elapsed")

// Until calls probe immediately and then once per interval until it
// returns nil. It gives up when the context is cancelled or after
// timeout of wall-clock time, whichever comes first. The returned error
// wraps ErrTimeout together with the last probe error, so callers can
// distinguish exhaustion from cancellation.
func Until(ctx context.Context, interval, timeout time.Duration, probe func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	if timeout <= 0 {
		return fmt.Errorf("poll timeout must be positive, got %s", timeout)
	}

	lastErr := probe(ctx)
	if lastErr == nil {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	budget := time.NewTimer(timeout)
	defer budget.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-budget.C:
			return fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, lastErr)
		case <-ticker.C:
			if lastErr = probe(ctx); lastErr == nil {
				return nil
			}
		}
	}
}
