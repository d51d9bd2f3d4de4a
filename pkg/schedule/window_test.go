package schedule

import (
	"testing"
	"time"
)

func TestScheduleZeroWindowCollapsesToScheduledDate(t *testing.T) {
	anchor := Date(2024, time.March, 1)
	w := Schedule(anchor, 14, 0, 0, DayZero)
	if !w.Start.Equal(w.Scheduled) || !w.End.Equal(w.Scheduled) {
		t.Fatalf("expected window to collapse to scheduled date, got [%v, %v] around %v", w.Start, w.End, w.Scheduled)
	}
	if !w.Scheduled.Equal(Date(2024, time.March, 15)) {
		t.Fatalf("expected 2024-03-15, got %v", w.Scheduled)
	}
}

func TestScheduleAppliesWindowAroundScheduledDate(t *testing.T) {
	anchor := Date(2024, time.January, 10)
	w := Schedule(anchor, 28, 3, 5, DayZero)
	if !w.Scheduled.Equal(Date(2024, time.February, 7)) {
		t.Fatalf("expected scheduled 2024-02-07, got %v", w.Scheduled)
	}
	if !w.Start.Equal(Date(2024, time.February, 4)) {
		t.Fatalf("expected window start 2024-02-04, got %v", w.Start)
	}
	if !w.End.Equal(Date(2024, time.February, 12)) {
		t.Fatalf("expected window end 2024-02-12, got %v", w.End)
	}
}

func TestDayOneConventionNormalizesOffset(t *testing.T) {
	anchor := Date(2024, time.June, 1)

	// Day 1 under the day-one convention is the anchor itself, same as
	// offset 0 and offset 1.
	zero := Schedule(anchor, 0, 0, 0, DayOne)
	one := Schedule(anchor, 1, 0, 0, DayOne)
	if !zero.Scheduled.Equal(anchor) || !one.Scheduled.Equal(anchor) {
		t.Fatalf("expected day-one offsets 0 and 1 to land on anchor, got %v and %v", zero.Scheduled, one.Scheduled)
	}

	// Day-one offset N matches day-zero offset N-1.
	a := Schedule(anchor, 15, 0, 0, DayOne)
	b := Schedule(anchor, 14, 0, 0, DayZero)
	if !a.Scheduled.Equal(b.Scheduled) {
		t.Fatalf("expected day-one 15 == day-zero 14, got %v vs %v", a.Scheduled, b.Scheduled)
	}
}

func TestScheduleNormalizesAnchorTimezone(t *testing.T) {
	// Same instant expressed in a non-UTC zone must not shift the projection.
	loc := time.FixedZone("UTC+11", 11*3600)
	local := time.Date(2024, time.May, 2, 23, 30, 0, 0, loc)
	w := Schedule(local, 7, 0, 0, DayZero)
	want := Schedule(local.UTC(), 7, 0, 0, DayZero)
	if !w.Scheduled.Equal(want.Scheduled) {
		t.Fatalf("timezone of anchor shifted projection: %v vs %v", w.Scheduled, want.Scheduled)
	}
}

func TestWindowContainsIsInclusive(t *testing.T) {
	w := Schedule(Date(2024, time.April, 1), 10, 2, 2, DayZero)
	if !w.Contains(w.Start) || !w.Contains(w.End) {
		t.Fatal("window bounds must be inclusive")
	}
	if w.Contains(w.Start.AddDate(0, 0, -1)) || w.Contains(w.End.AddDate(0, 0, 1)) {
		t.Fatal("dates outside bounds must not be contained")
	}
}

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("2024-01-11")
	if !ok || !d.Equal(Date(2024, time.January, 11)) {
		t.Fatalf("expected 2024-01-11, got %v ok=%v", d, ok)
	}
	d, ok = ParseDate("2024-01-11T08:15:00Z")
	if !ok || !d.Equal(Date(2024, time.January, 11)) {
		t.Fatalf("expected RFC3339 truncation to 2024-01-11, got %v ok=%v", d, ok)
	}
	if _, ok := ParseDate("11/01/2024"); ok {
		t.Fatal("expected rejection of non-ISO date")
	}
	if _, ok := ParseDate(""); ok {
		t.Fatal("expected rejection of empty date")
	}
}

func TestDaysBetween(t *testing.T) {
	if got := DaysBetween(Date(2024, time.January, 1), Date(2024, time.January, 11)); got != 10 {
		t.Fatalf("expected 10 days, got %d", got)
	}
	if got := DaysBetween(Date(2024, time.January, 11), Date(2024, time.January, 1)); got != -10 {
		t.Fatalf("expected -10 days, got %d", got)
	}
}
