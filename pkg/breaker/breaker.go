// Package breaker wraps sony/gobreaker with the one shape the platform
// needs: a named circuit around a func() error, opening after a run of
// consecutive failures and probing again after a cooldown.
package breaker

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned while the circuit is open (or saturated during
// the half-open probe).
var ErrOpen = errors.New("breaker: circuit open")

// Breaker is a circuit breaker around repeated calls to one dependency.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// Config tunes a Breaker. Zero values get the defaults noted per field.
type Config struct {
	// ConsecutiveFailures opens the circuit once reached. Default 5.
	ConsecutiveFailures uint32
}

// New builds a closed Breaker identified by name in state-change logs.
func New(name string, cfg Config) *Breaker {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// Do runs fn through the circuit. A cancelled ctx short-circuits without
// charging the breaker, so shutdown does not trip it.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State reports the current circuit state as a string (closed,
// half-open, open) for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
