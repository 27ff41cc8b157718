// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Package retry implements the delayed exponential retry harness used
// exclusively by the recorder to reopen its TCP connection after the
// runner reboots (§4.5). No other operation in this module is retried:
// protocol errors are terminal.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Error is returned when all attempts of a DelayedExponentialRetry call
// have been exhausted. It wraps the most recent attempt's failure as its
// Unwrap source.
type Error struct {
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// sleeper abstracts time.Sleep so tests can run the backoff schedule
// without actually waiting.
type sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DelayedExponentialRetry sleeps base, then 2*base, then 4*base, ... before
// each of maxAttempts attempts at op, returning as soon as one succeeds. If
// every attempt fails, it returns an *Error wrapping the last failure.
func DelayedExponentialRetry(ctx context.Context, op func(context.Context) error, base time.Duration, maxAttempts int) error {
	return delayedExponentialRetry(ctx, op, base, maxAttempts, contextSleep)
}

func delayedExponentialRetry(ctx context.Context, op func(context.Context) error, base time.Duration, maxAttempts int, sleep sleeper) error {
	delay := base
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := sleep(ctx, delay); err != nil {
			return &Error{Attempts: attempt - 1, Cause: err}
		}

		if err := op(ctx); err != nil {
			lastErr = err
			delay *= 2
			continue
		}
		return nil
	}

	return &Error{Attempts: maxAttempts, Cause: lastErr}
}
