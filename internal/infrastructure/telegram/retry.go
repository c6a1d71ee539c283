package telegram

import (
	"context"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
)

const defaultMaxRetries = 2

// RetryOptions tunes one InvokeWithRetry call
type RetryOptions struct {
	MaxRetries int
	// OnRetry runs before each wait, with the delay in whole seconds and the
	// upcoming attempt number (starting at 2)
	OnRetry func(delaySeconds, attempt int)
}

// InvokeWithRetry calls fn, classifying failures. Only Retry classifications
// consume the retry budget; rate-limit delays are honored in whole seconds
// and migration redirects retry immediately. Every other failure propagates
// unchanged after the first call.
func InvokeWithRetry(ctx context.Context, fn func(ctx context.Context) error, opts RetryOptions) error {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		c := Classify(lastErr)
		if !c.Retryable() || attempt > maxRetries {
			return lastErr
		}

		if opts.OnRetry != nil {
			opts.OnRetry(c.RetryAfter, attempt+1)
		}
		if c.RetryAfter > 0 {
			select {
			case <-time.After(time.Duration(c.RetryAfter) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// retryInvoker wraps a raw invoker so every request issued through the
// derived API client goes through classification-driven retry
type retryInvoker struct {
	next tg.Invoker
	log  zerolog.Logger
	opts RetryOptions
}

func newRetryInvoker(next tg.Invoker, log zerolog.Logger) *retryInvoker {
	inv := &retryInvoker{next: next, log: log}
	inv.opts = RetryOptions{
		MaxRetries: defaultMaxRetries,
		OnRetry: func(delaySeconds, attempt int) {
			inv.log.Warn().
				Int("delay_seconds", delaySeconds).
				Int("attempt", attempt).
				Msg("Retrying request")
		},
	}
	return inv
}

func (r *retryInvoker) Invoke(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
	return InvokeWithRetry(ctx, func(ctx context.Context) error {
		return r.next.Invoke(ctx, input, output)
	}, r.opts)
}

var _ tg.Invoker = (*retryInvoker)(nil)
