// Package shutdown provides a bounded-timeout graceful shutdown
// coordinator for the operational binary: wait for a cancellation
// signal, then close channel layers and deregister them from the
// registry in order, under a hard deadline.
//
// Grounded on bus/go/internal/shutdown/shutdown.go's wait-then-drain
// shape, reworked around this repo's registry/layer teardown: shutdown
// reason is reported via context.Cause, per-step timing is logged, and
// failures are aggregated with errors.Join instead of a hand-rolled
// slice-to-string join.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Coordinator drains registered channel layers once the process context
// is canceled, bounded by a timeout so one wedged layer.Close can't block
// process exit forever.
type Coordinator struct {
	timeout time.Duration
	logger  *log.Logger
}

// NewCoordinator builds a Coordinator. timeout defaults to 25s, logger to
// log.Default(), if zero/nil.
func NewCoordinator(timeout time.Duration, logger *log.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{timeout: timeout, logger: logger}
}

// WaitForShutdown blocks until ctx is done, then runs teardown in order
// against a fresh context bounded by the coordinator's timeout. teardown
// is meant for registry.Unregister and layer.Close calls; a step's error
// does not stop the remaining steps from running. The returned error, if
// any, joins every step's failure plus a deadline-exceeded error if the
// overall timeout was hit.
func (c *Coordinator) WaitForShutdown(ctx context.Context, teardown ...func(context.Context) error) error {
	<-ctx.Done()
	c.logger.Printf("INFO: shutdown triggered: %v", shutdownCause(ctx))

	drainCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	var errs []error
	for i, step := range teardown {
		stepStart := time.Now()
		err := step(drainCtx)
		elapsed := time.Since(stepStart)
		if err != nil {
			c.logger.Printf("ERROR: teardown step %d/%d failed after %v: %v", i+1, len(teardown), elapsed, err)
			errs = append(errs, fmt.Errorf("teardown step %d: %w", i+1, err))
			continue
		}
		c.logger.Printf("INFO: teardown step %d/%d done in %v", i+1, len(teardown), elapsed)
	}

	if drainCtx.Err() == context.DeadlineExceeded {
		errs = append(errs, fmt.Errorf("channel-layer teardown exceeded %v budget", c.timeout))
	}

	if len(errs) == 0 {
		c.logger.Printf("INFO: channel layers and registry drained cleanly in %v", time.Since(start))
		return nil
	}
	joined := errors.Join(errs...)
	c.logger.Printf("ERROR: shutdown finished in %v with errors: %v", time.Since(start), joined)
	return joined
}

// shutdownCause reports why ctx was canceled, falling back to ctx.Err()
// when no explicit cause was set via context.WithCancelCause.
func shutdownCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
