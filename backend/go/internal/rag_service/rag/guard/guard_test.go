package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
)

func TestGuard_TimeoutIsModelUnavailable(t *testing.T) {
	g := New("llm", 20*time.Millisecond, nil)

	start := time.Now()
	err := g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, schema.ErrModelUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGuard_WrapsFailures(t *testing.T) {
	g := New("embedder", time.Second, nil)
	cause := errors.New("connection refused")

	err := g.Do(context.Background(), func(context.Context) error { return cause })
	assert.ErrorIs(t, err, schema.ErrModelUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ModelUnavailable", schema.Kind(err))

	assert.NoError(t, g.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestGuard_OpenBreakerShortCircuits(t *testing.T) {
	b := circuitbreaker.New(1, 1, time.Hour)
	g := New("llm", time.Second, b)

	_ = g.Do(context.Background(), func(context.Context) error { return errors.New("down") })
	assert.Equal(t, circuitbreaker.Open, g.State())

	called := false
	err := g.Do(context.Background(), func(context.Context) error { called = true; return nil })
	assert.False(t, called)
	assert.ErrorIs(t, err, schema.ErrModelUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}
