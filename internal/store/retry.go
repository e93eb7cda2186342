package store

import (
	"context"
	"errors"
	"fmt"

	accountdomain "loginguard/internal/account/domain"
)

// MaxConflictRetries bounds how often an account decision is re-run after a version conflict.
const MaxConflictRetries = 5

// ErrTooManyConflicts is returned when every attempt lost the race for the account row.
var ErrTooManyConflicts = errors.New("store: account kept changing, giving up")

// RetryOnConflict runs fn until it returns something other than ErrVersionConflict, at most
// MaxConflictRetries times. fn must reload the account on every call.
func RetryOnConflict(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; attempt <= MaxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(attempt)
		if !errors.Is(err, accountdomain.ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrTooManyConflicts, MaxConflictRetries)
}
