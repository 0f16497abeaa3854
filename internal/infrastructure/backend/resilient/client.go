// Package resilient decorates a backend.Client with retries and a circuit
// breaker. The decorated client still reports exactly one outcome per call;
// retries are invisible to the virtual user except through latency.
package resilient

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
	"github.com/alem-hub/studyup-loadgen/pkg/circuitbreaker"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
	"github.com/alem-hub/studyup-loadgen/pkg/retry"
)

const domainName = "resilient"

// Config tunes the decorator.
type Config struct {
	// Attempts per call, including the first (1 disables retries).
	Attempts int

	// BreakerThreshold is the number of consecutive failures that opens
	// the circuit (0 disables the breaker).
	BreakerThreshold int

	// BreakerCooldown is how long the circuit stays open before probing.
	BreakerCooldown time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Attempts:         3,
		BreakerThreshold: 20,
		BreakerCooldown:  5 * time.Second,
	}
}

// Client wraps another backend.Client.
type Client struct {
	next    backend.Client
	retrier *retry.Retrier
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

var _ backend.Client = (*Client)(nil)

// Wrap decorates next. name identifies the breaker in logs.
func Wrap(name string, next backend.Client, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(logger.Component("resilient_backend"), zap.String("backend", name))

	c := &Client{next: next, logger: log}

	c.retrier = retry.BackendRetrier(max(cfg.Attempts, 1),
		func(attempt int, err error) {
			log.Debug("retrying backend call", zap.Int("attempt", attempt), logger.Err(err))
		},
		retry.WithRetryIf(transient),
	)

	if cfg.BreakerThreshold > 0 {
		c.breaker = circuitbreaker.New(name, circuitbreaker.Config{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
			IsFailure: countsAgainstBackend,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}
	return c
}

// BreakerState reports the circuit state, or closed when disabled.
func (c *Client) BreakerState() circuitbreaker.State {
	if c.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return c.breaker.State()
}

// CreateAccount implements backend.Client.
func (c *Client) CreateAccount(ctx context.Context, email, password string, verified bool) (backend.Account, error) {
	acc, err := invoke(ctx, c, func(ctx context.Context) (backend.Account, error) {
		return c.next.CreateAccount(ctx, email, password, verified)
	})
	if err != nil {
		return backend.Account{}, c.wrap("CreateAccount", shared.ErrAccountCreation, err)
	}
	return acc, nil
}

// AddDocument implements backend.Client.
func (c *Client) AddDocument(ctx context.Context, path backend.CollectionPath, fields map[string]any) (string, error) {
	id, err := invoke(ctx, c, func(ctx context.Context) (string, error) {
		return c.next.AddDocument(ctx, path, fields)
	})
	if err != nil {
		return "", c.wrap("AddDocument", shared.ErrWrite, err)
	}
	return id, nil
}

// ListDocuments implements backend.Client. A failure before the first
// document is retried; a failure after documents were yielded is passed
// through, since the consumer has already seen part of the listing.
func (c *Client) ListDocuments(ctx context.Context, path backend.CollectionPath) iter.Seq2[backend.Document, error] {
	return func(yield func(backend.Document, error) bool) {
		emitted, stopped := false, false

		err := c.call(ctx, func(ctx context.Context) error {
			for doc, err := range c.next.ListDocuments(ctx, path) {
				if err != nil {
					if emitted {
						return retry.Permanent(err)
					}
					return err
				}
				emitted = true
				if !yield(doc, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})

		if err != nil && !stopped {
			yield(backend.Document{}, c.wrap("ListDocuments", shared.ErrRead, err))
		}
	}
}

func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	_, err := invoke(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// invoke runs fn through the breaker, retrying transient failures.
func invoke[T any](ctx context.Context, c *Client, fn func(context.Context) (T, error)) (T, error) {
	return retry.DoWithData(ctx, c.retrier, func(ctx context.Context) (T, error) {
		if c.breaker == nil {
			return fn(ctx)
		}
		var out T
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx)
			return err
		})
		return out, err
	})
}

// wrap keeps errors that already carry a kind and tags breaker rejections.
func (c *Client) wrap(op string, kind error, err error) error {
	if circuitbreaker.IsRejected(err) {
		return shared.WrapError(domainName, op, kind, "backend circuit open", err)
	}
	if shared.KindOf(err) != nil {
		return err
	}
	return shared.WrapError(domainName, op, kind, "backend call failed", err)
}

// transient reports whether a call is worth repeating.
func transient(err error) bool {
	if circuitbreaker.IsRejected(err) || errors.Is(err, shared.ErrInvalidInput) {
		return false
	}
	return errors.Is(err, shared.ErrServiceUnavailable)
}

// countsAgainstBackend excludes failures caused by the caller.
func countsAgainstBackend(err error) bool {
	return !errors.Is(err, shared.ErrInvalidInput) && !errors.Is(err, context.Canceled)
}
