package timeline

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

func date(y int, m time.Month, d int) *time.Time {
	t := schedule.Date(y, m, d)
	return &t
}

func template(name string, day, before, after int) models.VisitTemplate {
	return models.VisitTemplate{
		ID:               uuid.NewSHA1(uuid.NameSpaceOID, []byte("tpl/"+name)),
		VisitName:        name,
		VisitDay:         day,
		WindowBeforeDays: before,
		WindowAfterDays:  after,
	}
}

func TestReconcileProjectsPlaceholders(t *testing.T) {
	tpl := template("Week 2", 14, 2, 2)
	in := Input{
		Templates: []models.VisitTemplate{tpl},
		Anchor:    date(2024, time.January, 1),
	}
	today := schedule.Date(2024, time.January, 5)

	entries := Reconcile(in, today)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != models.TimelineStatusUpcoming {
		t.Fatalf("expected upcoming, got %s", e.Status)
	}
	if !e.ScheduledDate.Equal(schedule.Date(2024, time.January, 15)) {
		t.Fatalf("expected scheduled 2024-01-15, got %v", e.ScheduledDate)
	}
	if !e.WindowStart.Equal(schedule.Date(2024, time.January, 13)) || !e.WindowEnd.Equal(schedule.Date(2024, time.January, 17)) {
		t.Fatalf("unexpected window [%v, %v]", e.WindowStart, e.WindowEnd)
	}
	if e.IsOverdue {
		t.Fatal("future placeholder must not be overdue")
	}
}

func TestReconcileScheduledTodayIsUpcomingNotOverdue(t *testing.T) {
	tpl := template("Day 10", 10, 0, 0)
	in := Input{Templates: []models.VisitTemplate{tpl}, Anchor: date(2024, time.March, 1)}
	today := schedule.Date(2024, time.March, 11) // anchor + 10

	entries := Reconcile(in, today)
	if entries[0].Status != models.TimelineStatusUpcoming {
		t.Fatalf("visit due today must be upcoming, got %s", entries[0].Status)
	}
	if entries[0].IsOverdue {
		t.Fatal("visit due today must not be overdue")
	}
}

func TestReconcilePastPlaceholderIsNotScheduledAndOverdue(t *testing.T) {
	tpl := template("Day 10", 10, 0, 0)
	in := Input{Templates: []models.VisitTemplate{tpl}, Anchor: date(2024, time.March, 1)}
	today := schedule.Date(2024, time.March, 12)

	entries := Reconcile(in, today)
	if entries[0].Status != models.TimelineStatusNotScheduled {
		t.Fatalf("expected not_scheduled, got %s", entries[0].Status)
	}
	if !entries[0].IsOverdue {
		t.Fatal("past unbooked visit must be overdue")
	}
}

func TestReconcileCompletedVisitNeverOverdue(t *testing.T) {
	tpl := template("Week 4", 28, 3, 3)
	visit := models.ActualVisit{
		ID:              uuid.New(),
		VisitScheduleID: &tpl.ID,
		VisitDate:       date(2023, time.June, 1), // far past the window
		Status:          models.VisitStatusCompleted,
	}
	in := Input{
		Templates: []models.VisitTemplate{tpl},
		Visits:    []models.ActualVisit{visit},
		Anchor:    date(2024, time.January, 1),
	}
	entries := Reconcile(in, schedule.Date(2024, time.June, 1))
	if entries[0].IsOverdue {
		t.Fatal("completed visit must never be overdue")
	}
	if entries[0].Status != models.VisitStatusCompleted {
		t.Fatalf("expected completed, got %s", entries[0].Status)
	}
	if entries[0].IsWithinWindow == nil || *entries[0].IsWithinWindow {
		t.Fatal("expected out-of-window flag on far-off actual date")
	}
}

func TestReconcileScheduledVisitOverdueOnlyStrictlyBeforeToday(t *testing.T) {
	tpl := template("Week 1", 7, 0, 0)
	visit := models.ActualVisit{
		ID:              uuid.New(),
		VisitScheduleID: &tpl.ID,
		VisitDate:       date(2024, time.January, 8),
		Status:          models.VisitStatusScheduled,
	}
	in := Input{
		Templates: []models.VisitTemplate{tpl},
		Visits:    []models.ActualVisit{visit},
		Anchor:    date(2024, time.January, 1),
	}

	sameDay := Reconcile(in, schedule.Date(2024, time.January, 8))
	if sameDay[0].IsOverdue {
		t.Fatal("booked for today is not overdue")
	}
	nextDay := Reconcile(in, schedule.Date(2024, time.January, 9))
	if !nextDay[0].IsOverdue {
		t.Fatal("booked yesterday and still scheduled must be overdue")
	}
}

func TestReconcileMostRecentlyDatedVisitWinsPerTemplate(t *testing.T) {
	tpl := template("Week 2", 14, 0, 0)
	older := models.ActualVisit{
		ID:              uuid.New(),
		VisitScheduleID: &tpl.ID,
		VisitDate:       date(2024, time.January, 10),
		Status:          models.VisitStatusCancelled,
	}
	newer := models.ActualVisit{
		ID:              uuid.New(),
		VisitScheduleID: &tpl.ID,
		VisitDate:       date(2024, time.January, 16),
		Status:          models.VisitStatusCompleted,
	}
	in := Input{
		Templates: []models.VisitTemplate{tpl},
		Visits:    []models.ActualVisit{older, newer},
		Anchor:    date(2024, time.January, 1),
	}
	entries := Reconcile(in, schedule.Date(2024, time.February, 1))
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry per template, got %d", len(entries))
	}
	if entries[0].ID != newer.ID {
		t.Fatal("expected the most recently dated visit to win the template match")
	}
}

func TestReconcileVisitNotNeededOverridesStatus(t *testing.T) {
	tpl := template("Week 8", 56, 0, 0)
	visit := models.ActualVisit{
		ID:              uuid.New(),
		VisitScheduleID: &tpl.ID,
		VisitDate:       date(2024, time.January, 2),
		Status:          models.VisitStatusScheduled,
		VisitNotNeeded:  true,
	}
	in := Input{
		Templates: []models.VisitTemplate{tpl},
		Visits:    []models.ActualVisit{visit},
		Anchor:    date(2024, time.January, 1),
	}
	entries := Reconcile(in, schedule.Date(2024, time.June, 1))
	if entries[0].Status != models.TimelineStatusNotNeeded {
		t.Fatalf("expected not_needed, got %s", entries[0].Status)
	}
	if entries[0].IsOverdue {
		t.Fatal("not-needed visit must not be flagged overdue")
	}
}

func TestReconcileFoldsUnscheduledVisits(t *testing.T) {
	tpl := template("Week 1", 7, 0, 0)
	extra := models.ActualVisit{
		ID:                uuid.New(),
		VisitDate:         date(2024, time.January, 4),
		Status:            models.VisitStatusCompleted,
		IsUnscheduled:     true,
		UnscheduledReason: "adverse event follow-up",
	}
	in := Input{
		Templates: []models.VisitTemplate{tpl},
		Visits:    []models.ActualVisit{extra},
		Anchor:    date(2024, time.January, 1),
	}
	entries := Reconcile(in, schedule.Date(2024, time.January, 10))
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Unscheduled Jan 4 sorts before the Week 1 projection on Jan 8.
	first := entries[0]
	if !first.IsUnscheduled {
		t.Fatal("expected unscheduled entry to sort first by date")
	}
	if first.UnscheduledReason != "adverse event follow-up" {
		t.Fatalf("reason text lost: %q", first.UnscheduledReason)
	}
	if !first.WindowStart.Equal(*extra.VisitDate) || !first.WindowEnd.Equal(*extra.VisitDate) {
		t.Fatal("unscheduled window must collapse to the recorded date")
	}
}

func TestReconcileMissingAnchorYieldsNoTemplateEntries(t *testing.T) {
	tpl := template("Week 1", 7, 0, 0)
	extra := models.ActualVisit{
		ID:            uuid.New(),
		VisitDate:     date(2024, time.January, 4),
		Status:        models.VisitStatusCompleted,
		IsUnscheduled: true,
	}
	in := Input{Templates: []models.VisitTemplate{tpl}, Visits: []models.ActualVisit{extra}}
	entries := Reconcile(in, schedule.Date(2024, time.January, 10))
	if len(entries) != 1 || !entries[0].IsUnscheduled {
		t.Fatalf("expected only the unscheduled entry without an anchor, got %d entries", len(entries))
	}
}

func TestReconcileMissingAnchorKeepsProtocolVisitIdentity(t *testing.T) {
	tpl := template("Week 1", 7, 0, 0)
	visit := models.ActualVisit{
		ID:              uuid.New(),
		VisitScheduleID: &tpl.ID,
		VisitDate:       date(2024, time.January, 8),
		Status:          models.VisitStatusCompleted,
	}
	in := Input{Templates: []models.VisitTemplate{tpl}, Visits: []models.ActualVisit{visit}}
	entries := Reconcile(in, schedule.Date(2024, time.January, 10))
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.IsUnscheduled {
		t.Fatal("a recorded protocol visit must not be rendered as unscheduled")
	}
	if e.VisitName != "Week 1" {
		t.Fatalf("expected protocol visit name, got %q", e.VisitName)
	}
	if e.TemplateID == nil || *e.TemplateID != tpl.ID {
		t.Fatal("template link lost on the anchorless path")
	}
	if e.Status != models.VisitStatusCompleted {
		t.Fatalf("expected completed, got %s", e.Status)
	}
	if e.ScheduledDate != nil || e.WindowStart != nil {
		t.Fatal("no window can be projected without an anchor")
	}
}

func TestReconcileIsDeterministic(t *testing.T) {
	templates := []models.VisitTemplate{
		template("Screening", 0, 0, 0),
		template("Week 1", 7, 1, 1),
		template("Week 2", 14, 2, 2),
	}
	visits := []models.ActualVisit{
		{
			ID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte("visit/1")),
			VisitScheduleID: &templates[0].ID,
			VisitDate:       date(2024, time.January, 1),
			Status:          models.VisitStatusCompleted,
		},
		{
			ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte("visit/2")),
			VisitDate:     date(2024, time.January, 8), // same day as Week 1 projection
			Status:        models.VisitStatusCompleted,
			IsUnscheduled: true,
		},
	}
	in := Input{Templates: templates, Visits: visits, Anchor: date(2024, time.January, 1)}
	today := schedule.Date(2024, time.January, 20)

	first := Reconcile(in, today)
	second := Reconcile(in, today)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("reconciling identical input twice must yield identical output")
	}
}
