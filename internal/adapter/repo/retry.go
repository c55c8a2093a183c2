package repo

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 200 * time.Millisecond
)

// isTransient reports whether the error is a connectivity or availability
// failure. Only these are retried; everything else propagates immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

// withRetry runs op, retrying transient failures with a doubling delay and a
// bounded attempt count.
func withRetry(ctx context.Context, op func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = op(); err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}
