package schedule

import (
	"math"
	"time"
)

// AnchorConvention distinguishes protocols that label their baseline visit
// "Day 0" from those that label it "Day 1". Under DayOne the stored offset is
// shifted down by one, exactly once, before any window arithmetic.
type AnchorConvention int

const (
	DayZero AnchorConvention = iota
	DayOne
)

// Window is the projected date for a protocol visit plus the inclusive range
// within which an actual visit is considered on-protocol. All three values are
// UTC midnights.
type Window struct {
	Scheduled time.Time
	Start     time.Time
	End       time.Time
}

// Contains reports whether d falls inside the inclusive [Start, End] range.
func (w Window) Contains(d time.Time) bool {
	d = DateOnly(d)
	return !d.Before(w.Start) && !d.After(w.End)
}

// Schedule projects a visit date from an anchor. All arithmetic happens on UTC
// midnights so the same inputs yield the same dates in every viewer timezone.
func Schedule(anchor time.Time, dayOffset, windowBefore, windowAfter int, conv AnchorConvention) Window {
	effective := dayOffset
	if conv == DayOne {
		effective = dayOffset - 1
		if effective < 0 {
			effective = 0
		}
	}
	scheduled := DateOnly(anchor).AddDate(0, 0, effective)
	return Window{
		Scheduled: scheduled,
		Start:     scheduled.AddDate(0, 0, -windowBefore),
		End:       scheduled.AddDate(0, 0, windowAfter),
	}
}

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC midnight from its parts.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole-day distance from a to b, rounded to absorb
// sub-day drift from timestamps that were not already midnights.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(b.UTC().Sub(a.UTC()).Hours() / 24))
}

// SameDay reports whether two timestamps fall on the same UTC calendar date.
func SameDay(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}

// ParseDate parses a calendar date. A failed parse reports ok=false; callers
// must treat the value as absent rather than substituting a fabricated date.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOnly(t), true
	}
	return time.Time{}, false
}

// ParseConvention maps a stored convention code to its typed value. Unknown
// codes fall back to DayZero, which leaves offsets untouched.
func ParseConvention(code string) AnchorConvention {
	if code == "day_one" {
		return DayOne
	}
	return DayZero
}
