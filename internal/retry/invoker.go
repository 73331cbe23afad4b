// Package retry re-issues throttled remote calls that the backend rejected
// for exceeding its quota.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/metrics"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/driver"
)

const (
	// DefaultMaxRetries gives five attempts in total.
	DefaultMaxRetries = 4
	// DefaultMaxJitter bounds the randomized wait between attempts.
	DefaultMaxJitter = time.Second
)

// Attempt describes one try of a logical request.
type Attempt[Req any] struct {
	Request    Req
	RetryCount int
}

// Options tune an Invoker. Zero values select the defaults.
type Options[Req any] struct {
	Name       string
	MaxRetries int
	MaxJitter  time.Duration

	// Truncate is applied to the request before every attempt.
	Truncate func(Req) Req
	// IsRateLimited decides whether a failure is retried.
	IsRateLimited func(error) bool
	// OnRetry observes every scheduled retry.
	OnRetry func(attempt Attempt[Req], wait time.Duration, err error)

	Clock  clockwork.Clock
	Logger *logging.Logger
	// Jitter returns a wait in [0, max). Tests may pin it.
	Jitter func(max time.Duration) time.Duration
}

// Invoker retries one throttled call on rate-limit failures.
type Invoker[Req, Resp any] struct {
	call *throttle.Func[Req, Resp]
	opts Options[Req]
}

// New wraps call. A zero MaxRetries selects DefaultMaxRetries and a
// negative one disables retries.
func New[Req, Resp any](call *throttle.Func[Req, Resp], opts Options[Req]) *Invoker[Req, Resp] {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxJitter <= 0 {
		opts.MaxJitter = DefaultMaxJitter
	}
	if opts.IsRateLimited == nil {
		opts.IsRateLimited = driver.IsRateLimited
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Jitter == nil {
		opts.Jitter = uniformJitter
	}
	return &Invoker[Req, Resp]{call: call, opts: opts}
}

// Func returns the throttled function so callers can abort or toggle it.
func (i *Invoker[Req, Resp]) Func() *throttle.Func[Req, Resp] {
	return i.call
}

// Invoke runs the request, retrying rate-limited attempts with a randomized
// wait. After MaxRetries retries the last rate-limit failure is returned
// unchanged; any other failure is returned on first occurrence.
func (i *Invoker[Req, Resp]) Invoke(ctx context.Context, req Req) (Resp, error) {
	attempt := Attempt[Req]{Request: req}
	for {
		if i.opts.Truncate != nil {
			attempt.Request = i.opts.Truncate(attempt.Request)
		}

		resp, err := i.call.Call(ctx, attempt.Request)
		if err == nil {
			return resp, nil
		}
		if !i.opts.IsRateLimited(err) || attempt.RetryCount >= i.opts.MaxRetries {
			if i.opts.Logger != nil {
				i.opts.Logger.Debug("Remote call failed",
					zap.String("invoker", i.opts.Name),
					zap.Int("retry_count", attempt.RetryCount),
					zap.Error(err))
			}
			return resp, err
		}

		wait := i.opts.Jitter(i.opts.MaxJitter)
		attempt.RetryCount++
		metrics.RecordRetry(i.opts.Name, attempt.RetryCount)
		if i.opts.OnRetry != nil {
			i.opts.OnRetry(attempt, wait, err)
		}
		if i.opts.Logger != nil {
			i.opts.Logger.Info("Too many requests, retrying",
				zap.String("invoker", i.opts.Name),
				zap.Int("retry_count", attempt.RetryCount),
				zap.Duration("wait", wait))
		}

		if err := i.sleep(ctx, wait); err != nil {
			var zero Resp
			return zero, err
		}
	}
}

func (i *Invoker[Req, Resp]) sleep(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}
	timer := i.opts.Clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
