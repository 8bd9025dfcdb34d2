package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOfficeHoursContains(t *testing.T) {
	w, err := ParseOfficeHours("08:00", "20:00", "UTC")
	require.NoError(t, err)

	inside := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	require.True(t, w.Contains(inside))

	beforeOpen := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)
	require.False(t, w.Contains(beforeOpen))

	atClose := time.Date(2026, 3, 5, 20, 0, 0, 0, time.UTC)
	require.False(t, w.Contains(atClose), "end bound is exclusive")
}

func TestOfficeHoursNextOpen(t *testing.T) {
	w, err := ParseOfficeHours("08:00", "20:00", "UTC")
	require.NoError(t, err)

	afterClose := time.Date(2026, 3, 5, 21, 0, 0, 0, time.UTC)
	next := w.NextOpen(afterClose)
	require.Equal(t, time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC), next)

	beforeOpen := time.Date(2026, 3, 5, 3, 0, 0, 0, time.UTC)
	next = w.NextOpen(beforeOpen)
	require.Equal(t, time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC), next)

	inside := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	require.Equal(t, inside, w.NextOpen(inside))
}
