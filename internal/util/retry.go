package util

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes how a failing call is retried. A Multiplier above 1
// gives exponential backoff (BaseDelay, BaseDelay*m, ...); otherwise every
// retry waits BaseDelay.
type RetryPolicy struct {
	Name       string
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// FetchPolicy is the short exponential backoff used around store API calls:
// two retries after 2s and 4s.
var FetchPolicy = RetryPolicy{Name: "fetch", MaxRetries: 2, BaseDelay: 2 * time.Second, Multiplier: 2}

// NotifyPolicy is the notification policy: a single retry after a long
// fixed pause, to ride out chat API rate limits.
var NotifyPolicy = RetryPolicy{Name: "notify", MaxRetries: 1, BaseDelay: 60 * time.Second, Multiplier: 1}

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Multiplier > 1 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.BaseDelay
		eb.Multiplier = p.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxInterval = p.BaseDelay << max(p.MaxRetries, 1)
		eb.MaxElapsedTime = 0
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.BaseDelay)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0))), ctx)
}

// Retry calls fn once plus up to p.MaxRetries more times. It returns nil on
// the first successful call, or the last error if all attempts fail. Errors
// wrapped with Permanent stop the loop. Context cancellation is respected
// between attempts.
func Retry(ctx context.Context, p RetryPolicy, log *slog.Logger, fn func() error) error {
	attempt := 0
	op := func() error {
		attempt++
		return fn()
	}
	notify := func(err error, wait time.Duration) {
		if log != nil {
			log.Warn("attempt failed, retrying",
				"policy", p.Name,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}
	}
	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	if err != nil && log != nil {
		log.Error("giving up", "policy", p.Name, "attempts", attempt, "error", err)
	}
	return err
}
