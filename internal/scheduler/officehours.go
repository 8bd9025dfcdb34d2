package scheduler

import (
	"fmt"
	"time"
)

// OfficeHours is the [start, end) local window sends are confined to.
type OfficeHours struct {
	Start time.Duration // offset from midnight, e.g. 8h for "08:00"
	End   time.Duration
	Loc   *time.Location
}

// ParseOfficeHours parses "HH:MM" bounds in the named timezone.
func ParseOfficeHours(start, end, tz string) (OfficeHours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return OfficeHours{}, fmt.Errorf("load office hours timezone %q: %w", tz, err)
	}
	s, err := parseClock(start)
	if err != nil {
		return OfficeHours{}, fmt.Errorf("parse office hours start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return OfficeHours{}, fmt.Errorf("parse office hours end: %w", err)
	}
	return OfficeHours{Start: s, End: e, Loc: loc}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether now falls in [Start, End) local to Loc. No
// weekend exclusion: the window applies every day.
func (w OfficeHours) Contains(now time.Time) bool {
	local := now.In(w.Loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Loc)
	offset := local.Sub(midnight)
	return offset >= w.Start && offset < w.End
}

// NextOpen returns the next instant the window opens at or after now. If
// now is already inside the window, it returns now unchanged.
func (w OfficeHours) NextOpen(now time.Time) time.Time {
	local := now.In(w.Loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Loc)
	todayOpen := midnight.Add(w.Start)

	if w.Contains(now) {
		return now
	}
	if local.Before(todayOpen) {
		return todayOpen
	}
	return todayOpen.AddDate(0, 0, 1)
}
