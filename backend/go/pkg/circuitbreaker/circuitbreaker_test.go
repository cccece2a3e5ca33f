package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDown = errors.New("dependency down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestBreaker_TripsAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(3, 2, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	}
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	assert.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, HalfOpen, b.State())
	assert.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(1, 1, time.Second, WithClock(clock.Now))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Second)
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(2, 1, time.Minute)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	b := New(1, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(1, 1, time.Second, WithClock(clock.Now))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, b.Execute(ctx, ok), ErrCircuitOpen)
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_FailurePredicate(t *testing.T) {
	ignored := errors.New("bad request")
	b := New(1, 1, time.Minute, WithFailurePredicate(func(err error) bool { return !errors.Is(err, ignored) }))

	_ = b.Execute(context.Background(), func(context.Context) error { return ignored })
	assert.Equal(t, Closed, b.State())
}
