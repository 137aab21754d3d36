// Package retry runs an operation a bounded number of times, retrying only
// errors a classifier accepts.
package retry

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted wraps the last error once every attempt was used.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Is returns a Classifier that retries errors matching target via errors.Is.
func Is(target error) Classifier {
	return func(err error) bool { return errors.Is(err, target) }
}

// Do calls fn with attempt numbers starting at 1 until it succeeds, returns an
// error the classifier rejects, or maxAttempts is reached. Context
// cancellation between attempts stops the loop.
func Do(ctx context.Context, maxAttempts int, retryable Classifier, fn func(ctx context.Context, attempt int) error) error {
	if maxAttempts < 1 {
		return fmt.Errorf("retry: maxAttempts must be >= 1, got %d", maxAttempts)
	}
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if retryable == nil || !retryable(last) {
			return last
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, last)
}
