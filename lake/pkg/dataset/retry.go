package dataset

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	initialRetryDelay = 50 * time.Millisecond
	maxRetryDelay     = 2 * time.Second
)

// isBusyError reports lock contention errors that are safe to retry because the
// failed transaction was rolled back.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "Transaction conflict")
}

// retryBusy retries fn with exponential backoff while it fails with a busy error.
func retryBusy[T any](ctx context.Context, log *slog.Logger, tries uint, operation string, fn func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info("dataset: operation succeeded after retries", "operation", operation, "attempts", attempt)
			}
			return v, nil
		}
		if !isBusyError(err) || errors.Is(err, context.Canceled) {
			return v, backoff.Permanent(err)
		}
		log.Warn("dataset: store busy, retrying", "operation", operation, "attempt", attempt, "error", err)
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(tries))
}
