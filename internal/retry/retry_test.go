package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticebot/internal/clock"
)

func TestCeilingGrowsAndCaps(t *testing.T) {
	p := Policy{Attempts: 5, Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}

	assert.Equal(t, time.Duration(0), p.Ceiling(1))
	assert.Equal(t, 2*time.Second, p.Ceiling(2))
	assert.Equal(t, 4*time.Second, p.Ceiling(3))
	assert.Equal(t, 16*time.Second, p.Ceiling(5))
	assert.Equal(t, 30*time.Second, p.Ceiling(6))
	assert.Equal(t, 30*time.Second, p.Ceiling(60))
}

func TestFullJitterWithinBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := FullJitter(250 * time.Millisecond)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 250*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), FullJitter(0))
}

func TestDoNeverExceedsAttempts(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	p := Policy{Attempts: 5, Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}

	var ceilings []time.Duration
	r := Retrier{
		Policy: p,
		Clock:  clk,
		Jitter: func(max time.Duration) time.Duration {
			ceilings = append(ceilings, max)
			return max
		},
	}

	calls := 0
	boom := errors.New("boom")
	n, err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, ceilings)
	assert.Equal(t, ceilings, clk.Sleeps())
}

func TestDoDelayClampedToCeiling(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	r := Retrier{
		Policy: Policy{Attempts: 3, Initial: time.Second, Multiplier: 2, Max: 3 * time.Second},
		Clock:  clk,
		Jitter: func(max time.Duration) time.Duration { return 10 * max },
	}
	_, _ = r.Do(context.Background(), func(context.Context, int) error { return errors.New("x") })
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, clk.Sleeps())
}

func TestDoStopsOnSuccess(t *testing.T) {
	r := Retrier{Policy: Policy{Attempts: 5}, Clock: clock.Fake(time.Unix(0, 0))}
	n, err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDoStopsOnPermanent(t *testing.T) {
	r := Retrier{Policy: Policy{Attempts: 5}, Clock: clock.Fake(time.Unix(0, 0))}
	bad := errors.New("bad request")
	n, err := r.Do(context.Background(), func(context.Context, int) error {
		return Permanent(bad)
	})
	assert.Equal(t, 1, n)
	require.ErrorIs(t, err, bad)
	assert.False(t, IsPermanent(err))
	assert.True(t, IsPermanent(Permanent(bad)))
	assert.Nil(t, Permanent(nil))
}

func TestDoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retrier{Policy: Policy{Attempts: 5}, Clock: clock.Fake(time.Unix(0, 0))}
	n, err := r.Do(ctx, func(context.Context, int) error {
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)
}
