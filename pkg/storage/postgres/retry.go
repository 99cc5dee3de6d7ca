package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// lockRetryDelay is the fixed backoff between attempts while the store
// reports lock contention. Variable so tests can shrink it.
var lockRetryDelay = time.Second

// withLockRetry runs fn, retrying indefinitely with a fixed backoff
// while the store reports transient lock contention. Any other error is
// returned to the caller. The context cancels the wait between attempts.
func withLockRetry(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		if err == nil || !isLockError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

// isLockError reports whether the error is transient lock contention:
// lock_not_available, deadlock_detected or serialization_failure.
func isLockError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001":
			return true
		}
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "lock")
}
