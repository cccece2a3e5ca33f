// Package guard bounds calls to remote model collaborators with a timeout and
// a circuit breaker, and reports every failure as schema.ErrModelUnavailable.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/pkg/circuitbreaker"
)

// Guard wraps calls to one collaborator.
type Guard struct {
	name    string
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

// New returns a Guard. A zero timeout or nil breaker disables that part.
func New(name string, timeout time.Duration, breaker *circuitbreaker.Breaker) *Guard {
	return &Guard{name: name, timeout: timeout, breaker: breaker}
}

// Do runs fn with the guard's deadline applied to ctx.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, fn)
	} else {
		err = fn(ctx)
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, schema.ErrModelUnavailable):
		return err
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return fmt.Errorf("%w: %s: %w", schema.ErrModelUnavailable, g.name, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s timed out after %s: %w", schema.ErrModelUnavailable, g.name, g.timeout, err)
	default:
		return fmt.Errorf("%w: %s: %w", schema.ErrModelUnavailable, g.name, err)
	}
}

// State reports the breaker state, or Closed when no breaker is configured.
func (g *Guard) State() circuitbreaker.State {
	if g.breaker == nil {
		return circuitbreaker.Closed
	}
	return g.breaker.State()
}
