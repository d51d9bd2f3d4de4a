package timeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

func sectionTemplate(name string, day int, sectionID *uuid.UUID) models.VisitTemplate {
	tpl := template(name, day, 0, 0)
	tpl.SectionID = sectionID
	return tpl
}

func TestBuildWithoutSectionsUsesSubjectAnchor(t *testing.T) {
	subject := models.Subject{
		ID:                uuid.New(),
		EnrollmentDate:    date(2024, time.January, 1),
		RandomizationDate: date(2024, time.January, 15),
	}
	templates := []models.VisitTemplate{template("Week 1", 7, 0, 0)}

	entries, missing := Build(subject, nil, templates, nil, schedule.DayZero, schedule.Date(2024, time.January, 2))
	if missing {
		t.Fatal("anchored subject must not report a missing anchor")
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	// Randomization date is preferred over enrollment date.
	if !entries[0].ScheduledDate.Equal(schedule.Date(2024, time.January, 22)) {
		t.Fatalf("expected anchor on randomization date, got scheduled %v", entries[0].ScheduledDate)
	}
}

func TestBuildFallsBackToEnrollmentDate(t *testing.T) {
	subject := models.Subject{ID: uuid.New(), EnrollmentDate: date(2024, time.February, 1)}
	templates := []models.VisitTemplate{template("Week 1", 7, 0, 0)}

	entries, missing := Build(subject, nil, templates, nil, schedule.DayZero, schedule.Date(2024, time.February, 2))
	if missing || len(entries) != 1 {
		t.Fatalf("expected 1 entry on enrollment anchor, got %d (missing=%v)", len(entries), missing)
	}
	if !entries[0].ScheduledDate.Equal(schedule.Date(2024, time.February, 8)) {
		t.Fatalf("expected 2024-02-08, got %v", entries[0].ScheduledDate)
	}
}

func TestBuildReportsMissingAnchor(t *testing.T) {
	subject := models.Subject{ID: uuid.New()}
	templates := []models.VisitTemplate{template("Week 1", 7, 0, 0)}

	entries, missing := Build(subject, nil, templates, nil, schedule.DayZero, schedule.Date(2024, time.February, 2))
	if !missing {
		t.Fatal("expected missing-anchor flag without any usable anchor date")
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty timeline, got %d entries", len(entries))
	}
}

func TestBuildAnchorsSectionsIndependently(t *testing.T) {
	screeningSection := uuid.New()
	treatmentSection := uuid.New()
	subject := models.Subject{ID: uuid.New(), EnrollmentDate: date(2023, time.December, 1)}

	templates := []models.VisitTemplate{
		sectionTemplate("Screening Day 3", 3, &screeningSection),
		sectionTemplate("Treatment Day 3", 3, &treatmentSection),
	}
	assignments := []models.SectionAssignment{
		{
			ID:             uuid.New(),
			SubjectID:      subject.ID,
			StudySectionID: &screeningSection,
			SectionCode:    "SCR",
			SectionOrder:   1,
			AnchorDate:     date(2024, time.January, 1),
		},
		{
			ID:             uuid.New(),
			SubjectID:      subject.ID,
			StudySectionID: &treatmentSection,
			SectionCode:    "TRT",
			SectionOrder:   2,
			AnchorDate:     date(2024, time.February, 1),
		},
	}

	today := schedule.Date(2024, time.January, 1)
	entries, missing := Build(subject, assignments, templates, nil, schedule.DayZero, today)
	if missing {
		t.Fatal("unexpected missing-anchor flag")
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].ScheduledDate.Equal(schedule.Date(2024, time.January, 4)) || entries[0].SectionCode != "SCR" {
		t.Fatalf("unexpected first entry: %v %s", entries[0].ScheduledDate, entries[0].SectionCode)
	}
	if !entries[1].ScheduledDate.Equal(schedule.Date(2024, time.February, 4)) || entries[1].SectionCode != "TRT" {
		t.Fatalf("unexpected second entry: %v %s", entries[1].ScheduledDate, entries[1].SectionCode)
	}

	// Moving one section's anchor must not shift the other section's dates.
	assignments[1].AnchorDate = date(2024, time.March, 1)
	moved, _ := Build(subject, assignments, templates, nil, schedule.DayZero, today)
	if !moved[0].ScheduledDate.Equal(schedule.Date(2024, time.January, 4)) {
		t.Fatalf("screening date shifted when treatment anchor moved: %v", moved[0].ScheduledDate)
	}
	if !moved[1].ScheduledDate.Equal(schedule.Date(2024, time.March, 4)) {
		t.Fatalf("treatment date did not follow its anchor: %v", moved[1].ScheduledDate)
	}
}

func TestSegmentFallsBackToFullTemplateSetWhenSectionUntagged(t *testing.T) {
	section := uuid.New()
	subject := models.Subject{ID: uuid.New()}
	// No template is tagged for this section.
	templates := []models.VisitTemplate{template("Week 1", 7, 0, 0), template("Week 2", 14, 0, 0)}
	assignments := []models.SectionAssignment{{
		ID:             uuid.New(),
		SubjectID:      subject.ID,
		StudySectionID: &section,
		SectionCode:    "TRT",
		AnchorDate:     date(2024, time.January, 1),
	}}

	inputs := Segment(subject, assignments, templates, nil, schedule.DayZero)
	if len(inputs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(inputs))
	}
	if len(inputs[0].Templates) != 2 {
		t.Fatalf("expected full template fallback, got %d templates", len(inputs[0].Templates))
	}
}

func TestSegmentFiltersVisitsByAssignment(t *testing.T) {
	section := uuid.New()
	subject := models.Subject{ID: uuid.New()}
	assignment := models.SectionAssignment{
		ID:             uuid.New(),
		SubjectID:      subject.ID,
		StudySectionID: &section,
		AnchorDate:     date(2024, time.January, 1),
	}
	tagged := models.ActualVisit{
		ID:               uuid.New(),
		SubjectSectionID: &assignment.ID,
		VisitDate:        date(2024, time.January, 5),
		Status:           models.VisitStatusCompleted,
		IsUnscheduled:    true,
	}
	orphan := models.ActualVisit{
		ID:            uuid.New(),
		VisitDate:     date(2024, time.January, 6),
		Status:        models.VisitStatusCompleted,
		IsUnscheduled: true,
	}

	inputs := Segment(subject, []models.SectionAssignment{assignment}, nil, []models.ActualVisit{tagged, orphan}, schedule.DayZero)
	if len(inputs) != 2 {
		t.Fatalf("expected section segment plus orphan partition, got %d", len(inputs))
	}
	if len(inputs[0].Visits) != 1 || inputs[0].Visits[0].ID != tagged.ID {
		t.Fatal("expected tagged visit in the section segment")
	}
	if len(inputs[1].Visits) != 1 || inputs[1].Visits[0].ID != orphan.ID {
		t.Fatal("expected untagged visit to survive in the trailing partition")
	}
}
