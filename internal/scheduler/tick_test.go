package scheduler

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDrawBatchSizeStaysWithinRange(t *testing.T) {
	d := &Deps{Rand: rand.New(rand.NewSource(1))}
	for i := 0; i < 50; i++ {
		n := drawBatchSize(d, 5, 10)
		require.GreaterOrEqual(t, n, 5)
		require.LessOrEqual(t, n, 10)
	}
}

func TestDrawBatchSizeCollapsesWhenMaxNotAboveMin(t *testing.T) {
	d := &Deps{Rand: rand.New(rand.NewSource(1))}
	require.Equal(t, 5, drawBatchSize(d, 5, 5))
	require.Equal(t, 5, drawBatchSize(d, 5, 3))
}

func TestDrawDelayStaysWithinRange(t *testing.T) {
	d := &Deps{Rand: rand.New(rand.NewSource(1))}
	min, max := 2*time.Second, 8*time.Second
	for i := 0; i < 50; i++ {
		delay := drawDelay(d, min, max)
		require.GreaterOrEqual(t, delay, min)
		require.LessOrEqual(t, delay, max)
	}
}

func TestDrawDelayCollapsesWhenMaxNotAboveMin(t *testing.T) {
	d := &Deps{Rand: rand.New(rand.NewSource(1))}
	require.Equal(t, 3*time.Second, drawDelay(d, 3*time.Second, 3*time.Second))
}

func TestDepsNowFallsBackToWallClockWithoutAClock(t *testing.T) {
	d := &Deps{}
	before := time.Now().UTC()
	got := d.now()
	require.False(t, got.Before(before))
}

func TestDepsNowUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &Deps{Clock: func() time.Time { return fixed }}
	require.Equal(t, fixed, d.now())
}

func TestDepsRandIntnHandlesNonPositiveBound(t *testing.T) {
	d := &Deps{Rand: rand.New(rand.NewSource(1))}
	require.Equal(t, 0, d.randIntn(0))
	require.Equal(t, 0, d.randIntn(-1))
}
