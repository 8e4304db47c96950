// Package poll provides a bounded condition-polling primitive, used instead
// of fixed sleeps wherever the harness waits for device or cloud state to
// settle.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Until evaluates condition every interval until it reports true, returns an
// error, or the timeout elapses. The clock is injectable so tests can drive
// time.
func Until(ctx context.Context, clock clockwork.Clock, condition func() (bool, error), timeout, interval time.Duration) error {
	deadline := clock.After(timeout)

	for {
		ok, err := condition()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("polling cancelled: %w", ctx.Err())
		case <-deadline:
			return fmt.Errorf("condition not met within %s", timeout)
		case <-clock.After(interval):
		}
	}
}
