package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleBoundsConcurrency(t *testing.T) {
	l := New(Options{MaxConcurrent: 2, PerSecond: 1000, Reservoir: 1000})

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Schedule(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestScheduleReturnsCallerError(t *testing.T) {
	l := New(Options{PerSecond: 1000, Reservoir: 10})
	sentinel := assert.AnError
	err := l.Schedule(context.Background(), func(ctx context.Context) error { return sentinel })
	assert.Equal(t, sentinel, err)
}

func TestCooldownBlocksDispatch(t *testing.T) {
	l := New(Options{PerSecond: 1000, Reservoir: 10, Cooldown: 50 * time.Millisecond})
	l.On429()

	start := time.Now()
	err := l.Schedule(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestCooldownCallersHoldNoSlots(t *testing.T) {
	l := New(Options{MaxConcurrent: 2, PerSecond: 1000, Reservoir: 10, Cooldown: 300 * time.Millisecond})
	l.On429()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Schedule(ctx, func(ctx context.Context) error { return nil })
		}()
	}
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, l.slots, 0, "waiting out a cool-off must not pin capacity")
	cancel()
	wg.Wait()
}

func TestCooldownRespectsContext(t *testing.T) {
	l := New(Options{PerSecond: 1000, Reservoir: 10, Cooldown: time.Hour})
	l.On429()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Schedule(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReservoirExhaustionWaitsForRefill(t *testing.T) {
	l := New(Options{PerSecond: 1000, Reservoir: 2, RefillEvery: 60 * time.Millisecond})

	ctx := context.Background()
	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, l.Schedule(ctx, noop))
	require.NoError(t, l.Schedule(ctx, noop))

	start := time.Now()
	require.NoError(t, l.Schedule(ctx, noop))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
