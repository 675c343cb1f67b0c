package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes WithBreaker.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker (default 5).
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a half-open probe (default 30s).
	OpenTimeout time.Duration
	// OnStateChange is optional, e.g. for logging.
	OnStateChange func(name string, from, to gobreaker.State)
}

// ErrBreakerOpen is returned when the circuit is open and the call was not attempted.
var ErrBreakerOpen = gobreaker.ErrOpenState

type breakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps p in a circuit breaker. Caller cancellations and 4xx
// replies other than 429 do not count as provider failures.
func WithBreaker(p Provider, cfg BreakerConfig) Provider {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    p.Name(),
		Timeout: timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful:  countsAsHealthy,
		OnStateChange: cfg.OnStateChange,
	}
	return &breakerProvider{inner: p, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerProvider) Name() string { return b.inner.Name() }

func (b *breakerProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Complete(ctx, prompt, opts)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != 429
	}
	return false
}
