package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/distlock/testkit"
)

var errBackend = errors.New("backend unavailable")

func newTestBreaker(t *testing.T, cfg *Config, opts ...Option) Breaker {
	t.Helper()
	brk, err := New(cfg, append([]Option{WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter())}, opts...)...)
	require.NoError(t, err)
	return brk
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{FailureRatio: 1.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	brk, err := New(&Config{})
	require.NoError(t, err)
	assert.NotNil(t, brk)
}

func TestExecute_Success(t *testing.T) {
	brk := newTestBreaker(t, &Config{MinimumRequests: 3})

	result, err := brk.Execute(context.Background(), "svc", func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	state, err := brk.State("svc")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestExecute_EmptyKey(t *testing.T) {
	brk := newTestBreaker(t, &Config{})
	_, err := brk.Execute(context.Background(), "", func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrKeyEmpty)

	_, err = brk.State("")
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestExecute_TripsAndRecovers(t *testing.T) {
	brk := newTestBreaker(t, &Config{
		MaxRequests:     1,
		Timeout:         100 * time.Millisecond,
		FailureRatio:    0.5,
		MinimumRequests: 2,
	})
	ctx := context.Background()
	fail := func() (any, error) { return nil, errBackend }

	for i := 0; i < 2; i++ {
		_, err := brk.Execute(ctx, "svc", fail)
		assert.ErrorIs(t, err, errBackend)
	}

	state, _ := brk.State("svc")
	assert.Equal(t, StateOpen, state)

	called := false
	_, err := brk.Execute(ctx, "svc", func() (any, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
	assert.False(t, called)

	// 其他 key 不受影响
	_, err = brk.Execute(ctx, "other", func() (any, error) { return nil, nil })
	assert.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	_, err = brk.Execute(ctx, "svc", func() (any, error) { return "probe", nil })
	require.NoError(t, err)
	state, _ = brk.State("svc")
	assert.Equal(t, StateClosed, state)
}

func TestExecute_IsSuccessful(t *testing.T) {
	brk := newTestBreaker(t, &Config{FailureRatio: 0.5, MinimumRequests: 2},
		WithIsSuccessful(func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}),
	)

	for i := 0; i < 5; i++ {
		_, err := brk.Execute(context.Background(), "svc", func() (any, error) {
			return nil, context.Canceled
		})
		assert.ErrorIs(t, err, context.Canceled)
	}
	state, _ := brk.State("svc")
	assert.Equal(t, StateClosed, state)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
