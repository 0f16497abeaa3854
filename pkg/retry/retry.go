// Package retry retries backend calls with exponential backoff and jitter.
// Scheduling is delegated to avast/retry-go; this package adds the
// Retryable/Permanent classification and context-first signatures.
package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go"
)

// RetryableError indicates that an error is retryable.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error to indicate it should be retried.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// PermanentError indicates that an error should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (should not be retried).
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including first attempt).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry; it doubles per attempt.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	// Default: 5s
	MaxDelay time.Duration

	// JitterFactor adds up to InitialDelay*JitterFactor of random delay.
	// Default: 0.1
	JitterFactor float64

	// RetryIf decides whether an error is retried.
	// If nil, only RetryableError errors are retried.
	RetryIf func(error) bool

	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.1,
	}
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the initial delay before first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

// WithRetryIf sets a custom function to determine if an error should be retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry sets a callback function called before each retry.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// Retrier manages retry operations.
type Retrier struct {
	config Config
}

// New creates a new Retrier with the given options.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Config returns the effective configuration.
func (r *Retrier) Config() Config {
	return r.config
}

// Do executes the operation with retries. The returned error is the last
// attempt's error with any Retryable/Permanent marker removed, or ctx.Err()
// when ctx ends before or between attempts.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	shouldRetry := r.config.RetryIf
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	err := retrygo.Do(
		func() error { return operation(ctx) },
		r.options(ctx, func(err error) bool {
			return !IsPermanent(err) && shouldRetry(err)
		})...,
	)
	return unmark(err)
}

func (r *Retrier) options(ctx context.Context, retryIf func(error) bool) []retrygo.Option {
	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(uint(max(r.config.MaxAttempts, 1))),
		retrygo.Delay(r.config.InitialDelay),
		retrygo.MaxDelay(r.config.MaxDelay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(retryIf),
	}

	if jitter := time.Duration(float64(r.config.InitialDelay) * r.config.JitterFactor); jitter > 0 {
		opts = append(opts,
			retrygo.MaxJitter(jitter),
			retrygo.DelayType(retrygo.CombineDelay(retrygo.BackOffDelay, retrygo.RandomDelay)),
		)
	} else {
		opts = append(opts, retrygo.DelayType(retrygo.BackOffDelay))
	}

	if r.config.OnRetry != nil {
		onRetry := r.config.OnRetry
		opts = append(opts, retrygo.OnRetry(func(n uint, err error) {
			onRetry(int(n)+1, unmark(err))
		}))
	}
	return opts
}

// unmark strips the classification wrappers added by Retryable and Permanent.
func unmark(err error) error {
	switch e := err.(type) {
	case *RetryableError:
		return e.Err
	case *PermanentError:
		return e.Err
	default:
		return err
	}
}

// DoWithData is a helper for operations that return data.
func DoWithData[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}

// BackendRetrier returns a Retrier tuned for document-store calls made on
// behalf of a virtual user: few attempts, short delays. opts are applied
// last and may override the tuning.
func BackendRetrier(attempts int, onRetry func(attempt int, err error), opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(attempts),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.2),
		WithOnRetry(onRetry),
	}, opts...)...)
}
