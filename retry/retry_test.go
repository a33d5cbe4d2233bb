package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/distlock/testkit"
)

// fakeClock 只在 Sleep 或显式 advance 时前进
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

var errBoom = errors.New("boom")

func TestPolicy_Validate(t *testing.T) {
	assert.ErrorIs(t, Policy{TotalWait: time.Second}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{TotalWait: time.Second, Backoff: -time.Second}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{TotalWait: -time.Second, Backoff: time.Second}.Validate(), ErrInvalidPolicy)
	assert.NoError(t, Policy{Backoff: time.Second}.Validate())

	calls := 0
	_, err := Do(context.Background(), Policy{TotalWait: time.Second}, func(context.Context, time.Duration) Outcome[int] {
		calls++
		return Success(1)
	})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Zero(t, calls)
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	v, err := Do(context.Background(), Policy{TotalWait: 10 * time.Second, Backoff: time.Second},
		func(_ context.Context, forced time.Duration) Outcome[string] {
			calls++
			assert.Zero(t, forced)
			return Success("lock-1")
		}, WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, "lock-1", v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.sleeps)
}

func TestDo_HardWithoutAutomaticRetry(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	_, err := Do(context.Background(), Policy{TotalWait: time.Minute, Backoff: time.Second},
		func(context.Context, time.Duration) Outcome[int] {
			calls++
			return Hard[int](errBoom)
		}, WithClock(clock))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, IsContention(err))
	assert.Equal(t, 1, AttemptsOf(err))
	assert.Empty(t, clock.sleeps)
}

func TestDo_HardWithAutomaticRetry(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	_, err := Do(context.Background(), Policy{TotalWait: 3 * time.Second, Backoff: time.Second, AutomaticRetry: true},
		func(context.Context, time.Duration) Outcome[int] {
			calls++
			return Hard[int](errBoom)
		}, WithClock(clock))

	// 尝试发生在 t=0,1,2,3；t=2 时 elapsed == TotalWait-Backoff，仍然允许再试一次
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.sleeps)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindHard, re.Kind)
	assert.Equal(t, 3*time.Second, re.Elapsed)
	assert.Contains(t, err.Error(), "boom")
}

func TestDo_PermanentNeverRetried(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	_, err := Do(context.Background(), Policy{TotalWait: time.Minute, Backoff: time.Second, AutomaticRetry: true},
		func(context.Context, time.Duration) Outcome[int] {
			calls++
			return Permanent[int](errBoom)
		}, WithClock(clock))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, clock.sleeps)
}

func TestDo_ContentionAlwaysRetried(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	_, err := Do(context.Background(), Policy{TotalWait: 3 * time.Second, Backoff: time.Second, AutomaticRetry: false},
		func(context.Context, time.Duration) Outcome[int] {
			calls++
			return Contention[int](nil)
		}, WithClock(clock))

	require.Error(t, err)
	assert.Greater(t, calls, 1)
	assert.True(t, IsContention(err))
	assert.ErrorIs(t, err, errContention)
}

func TestDo_LastFailureSurfaced(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	errRateLimited := errors.New("rate limited")
	_, err := Do(context.Background(), Policy{TotalWait: 2 * time.Second, Backoff: time.Second, AutomaticRetry: true},
		func(context.Context, time.Duration) Outcome[int] {
			calls++
			if calls == 1 {
				return Contention[int](errBoom)
			}
			return Hard[int](errRateLimited)
		}, WithClock(clock))

	assert.ErrorIs(t, err, errRateLimited)
	assert.NotErrorIs(t, err, errBoom)
	assert.False(t, IsContention(err))
}

func TestDo_EventualSuccess(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	v, err := Do(context.Background(), Policy{TotalWait: time.Minute, Backoff: 2 * time.Second},
		func(context.Context, time.Duration) Outcome[int] {
			calls++
			if calls < 3 {
				return Contention[int](errBoom)
			}
			return Success(calls)
		}, WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.sleeps)
}

func TestDo_NegotiatesServerWait(t *testing.T) {
	clock := newFakeClock()
	ceiling := 5 * time.Second
	var forcedSeen []time.Duration

	_, err := Do(context.Background(), Policy{
		TotalWait:           10 * time.Second,
		Backoff:             time.Second,
		ServerWaitCeiling:   ceiling,
		NegotiateServerWait: true,
	}, func(_ context.Context, forced time.Duration) Outcome[int] {
		forcedSeen = append(forcedSeen, forced)
		// 服务端挂起到等待结束才回复 409
		if forced > 0 {
			clock.advance(forced)
		} else {
			clock.advance(ceiling)
		}
		return Contention[int](errBoom)
	}, WithClock(clock))

	require.Error(t, err)
	// 第一次用上限 5s；elapsed=5 时 5+1+5 > 10，收紧为 10-5-1 = 4s
	assert.Equal(t, []time.Duration{0, 4 * time.Second}, forcedSeen)
	for _, f := range forcedSeen[1:] {
		assert.Less(t, f, ceiling)
	}
}

func TestDo_ForcedWaitTruncatedWithFloor(t *testing.T) {
	clock := newFakeClock()
	var forcedSeen []time.Duration
	step := []time.Duration{1500 * time.Millisecond, 0, 0}

	_, _ = Do(context.Background(), Policy{
		TotalWait:           3 * time.Second,
		Backoff:             time.Second,
		ServerWaitCeiling:   60 * time.Second,
		NegotiateServerWait: true,
	}, func(_ context.Context, forced time.Duration) Outcome[int] {
		forcedSeen = append(forcedSeen, forced)
		clock.advance(step[len(forcedSeen)-1])
		return Contention[int](errBoom)
	}, WithClock(clock))

	// elapsed=1.5s：trunc(3-1.5-1)=0 → 下限 1s；elapsed=2.5s 时已超出 3-1=2，停止
	assert.Equal(t, []time.Duration{0, time.Second}, forcedSeen)
}

func TestDo_NoNegotiationWithoutFlag(t *testing.T) {
	clock := newFakeClock()
	_, _ = Do(context.Background(), Policy{
		TotalWait:         3 * time.Second,
		Backoff:           time.Second,
		ServerWaitCeiling: 60 * time.Second,
	}, func(_ context.Context, forced time.Duration) Outcome[int] {
		assert.Zero(t, forced)
		return Contention[int](errBoom)
	}, WithClock(clock))
}

func TestDo_ContextCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()

	_, err := Do(ctx, Policy{TotalWait: time.Minute, Backoff: 10 * time.Second},
		func(context.Context, time.Duration) Outcome[int] {
			calls++
			cancel()
			return Contention[int](errBoom)
		}, WithLogger(testkit.NewLogger()))

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, IsContention(err))
}

func TestDo_OnAttempt(t *testing.T) {
	clock := newFakeClock()
	var attempts []Attempt
	_, _ = Do(context.Background(), Policy{TotalWait: 2 * time.Second, Backoff: time.Second, AutomaticRetry: true},
		func(context.Context, time.Duration) Outcome[int] {
			return Hard[int](nil)
		}, WithClock(clock), WithOnAttempt(func(a Attempt) { attempts = append(attempts, a) }))

	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, KindHard, a.Kind)
		assert.ErrorIs(t, a.Err, errHard)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "success", KindSuccess.String())
	assert.Equal(t, "contention", KindContention.String())
	assert.Equal(t, "hard", KindHard.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
