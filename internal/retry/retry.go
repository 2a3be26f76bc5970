package retry

import (
	"time"

	"github.com/avast/retry-go/v4"
)

// DefaultOptions implement bounded exponential backoff: transient
// connectivity failures are retried with growing delays up to MaxDelay.
var DefaultOptions = []retry.Option{
	retry.LastErrorOnly(true),
	retry.Delay(time.Second),
	retry.MaxDelay(30 * time.Second),
	retry.DelayType(retry.BackOffDelay),
}

type Config[T any] struct {
	If      func(err error) bool
	Options []retry.Option
}

func (rc Config[T]) Do(f retry.RetryableFuncWithData[T]) (T, error) {
	opts := rc.Options
	if rc.If != nil {
		opts = append(opts, retry.RetryIf(rc.If))
	}
	return retry.DoWithData(f, opts...)
}

// OnTransientConfig retries up to attemptCount times while retryable
// reports the error as transient. Logical/data errors must return false
// from retryable so they surface immediately.
func OnTransientConfig[T any](attemptCount uint, retryable func(error) bool) Config[T] {
	cfg := Config[T]{
		If:      retryable,
		Options: []retry.Option{retry.Attempts(attemptCount)},
	}
	cfg.Options = append(cfg.Options, DefaultOptions...)
	return cfg
}
