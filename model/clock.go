package model

import (
	"fmt"
	"strings"
	"time"
)

// ClockLayout is the HH:MM format used by operators and the live feed.
const ClockLayout = "15:04"

// ServiceDay truncates t to midnight in t's location.
func ServiceDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseClock resolves an HH:MM string against the service day of day.
func ParseClock(day time.Time, hhmm string) (time.Time, error) {
	v := strings.TrimSpace(hhmm)
	parsed, err := time.Parse(ClockLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock time %q: want HH:MM", hhmm)
	}
	base := ServiceDay(day)
	return base.Add(time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute), nil
}

// ParseClockWindow resolves a from/to HH:MM pair against the service day
// of day. A window whose end is earlier than its start crosses midnight and
// ends on the next day.
func ParseClockWindow(day time.Time, from, to string) (time.Time, time.Time, error) {
	start, err := ParseClock(day, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := ParseClock(day, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if end.Before(start) {
		end = end.Add(24 * time.Hour)
	}
	return start, end, nil
}

// ParseClockNear resolves an HH:MM string to the occurrence closest to ref,
// so that "00:10" read at 23:50 lands on the next day.
func ParseClockNear(ref time.Time, hhmm string) (time.Time, error) {
	t, err := ParseClock(ref, hhmm)
	if err != nil {
		return time.Time{}, err
	}
	switch {
	case ref.Sub(t) > 12*time.Hour:
		t = t.Add(24 * time.Hour)
	case t.Sub(ref) > 12*time.Hour:
		t = t.Add(-24 * time.Hour)
	}
	return t, nil
}

// FormatClock renders t as HH:MM; the zero time renders as "N/A".
func FormatClock(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(ClockLayout)
}
