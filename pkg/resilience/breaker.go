// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jllopis/soundscape/pkg/errors"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// Interval clears the failure counts while closed. Zero never clears.
	Interval time.Duration
}

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
)

// Breaker guards a collaborator returning T.
type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// NewBreaker builds a breaker; zero fields take defaults.
func NewBreaker[T any](cfg BreakerConfig, logger *slog.Logger) *Breaker[T] {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("resilience.breaker.state",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &Breaker[T]{cb: cb}
}

// Execute runs fn through the breaker. While the circuit is open calls fail
// fast with a non-recoverable collaborator failure.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(fn)
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, errors.New(errors.CodeCollaboratorFailure, "circuit open", err).
			WithContext("breaker", b.cb.Name())
	}
	return v, err
}

// State returns the breaker state name: closed, half-open or open.
func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}
