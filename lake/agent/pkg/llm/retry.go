package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retrying re-issues failed calls with exponential backoff. Streams are only
// retried while no chunk has reached the caller.
type retrying struct {
	Provider
	log   *slog.Logger
	tries uint
}

func withRetry(log *slog.Logger, p Provider, retries int) Provider {
	if retries <= 0 {
		return p
	}
	return &retrying{Provider: p, log: log, tries: uint(retries) + 1}
}

func (r *retrying) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	return bo
}

func (r *retrying) Complete(ctx context.Context, req *Request) (string, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		if attempt > 1 {
			r.log.Warn("llm: provider call failed, retrying", "provider", r.Kind(), "model", r.Model(), "attempt", attempt)
		}
		out, err := r.Provider.Complete(ctx, req)
		if err != nil && !retryable(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.tries))
}

func (r *retrying) Stream(ctx context.Context, req *Request, onChunk func(string) error) (string, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		if attempt > 1 {
			r.log.Warn("llm: provider stream failed, retrying", "provider", r.Kind(), "model", r.Model(), "attempt", attempt)
		}
		started := false
		out, err := r.Provider.Stream(ctx, req, func(chunk string) error {
			started = true
			return onChunk(chunk)
		})
		if err != nil && (started || !retryable(err)) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.tries))
}

// retryable reports whether err came from the provider rather than from the
// caller giving up.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	return errors.As(err, &pe)
}
