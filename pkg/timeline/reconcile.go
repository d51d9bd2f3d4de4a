package timeline

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

// Input is one reconciliation unit: a template set and the recorded visits
// that belong to it, re-based on a single anchor date. When the subject is in
// sections, the segmenter produces one Input per section assignment.
type Input struct {
	Templates  []models.VisitTemplate
	Visits     []models.ActualVisit
	Anchor     *time.Time
	Convention schedule.AnchorConvention
	Assignment *models.SectionAssignment
}

// Reconcile merges a protocol template set with recorded visits into derived
// timeline entries. It is pure: the as-of date is an explicit parameter and
// identical inputs produce identical output, placeholder ids included.
func Reconcile(in Input, today time.Time) []models.TimelineEntry {
	today = schedule.DateOnly(today)
	matched := indexByTemplate(in.Visits)

	entries := make([]models.TimelineEntry, 0, len(in.Templates)+len(in.Visits))
	templates := make(map[uuid.UUID]*models.VisitTemplate, len(in.Templates))
	for i := range in.Templates {
		templates[in.Templates[i].ID] = &in.Templates[i]
	}

	// Anchor is required to project template dates. Without one there is no
	// computable protocol timeline; recorded visits below still surface.
	if in.Anchor != nil {
		for _, tpl := range in.Templates {
			entries = append(entries, templateEntry(in, tpl, matched[tpl.ID], today))
		}
	}

	for i := range in.Visits {
		visit := in.Visits[i]
		if visit.VisitScheduleID != nil {
			if tpl, known := templates[*visit.VisitScheduleID]; known {
				// Already merged into its template entry when anchored. On
				// the anchorless path the winning visit still renders as a
				// plain dated protocol entry; it was never unscheduled.
				if in.Anchor == nil && matched[tpl.ID] == &in.Visits[i] {
					entries = append(entries, recordedEntry(in, visit, tpl, today))
				}
				continue
			}
		}
		entries = append(entries, unscheduledEntry(in, visit, today))
	}

	sortEntries(entries)
	return entries
}

// indexByTemplate picks one recorded visit per template. When several visits
// reference the same template the most recently dated one wins; equal dates
// fall back to the lexically larger id so repeated runs agree.
func indexByTemplate(visits []models.ActualVisit) map[uuid.UUID]*models.ActualVisit {
	index := make(map[uuid.UUID]*models.ActualVisit)
	for i := range visits {
		visit := &visits[i]
		if visit.VisitScheduleID == nil {
			continue
		}
		current, ok := index[*visit.VisitScheduleID]
		if !ok || laterVisit(visit, current) {
			index[*visit.VisitScheduleID] = visit
		}
	}
	return index
}

func laterVisit(a, b *models.ActualVisit) bool {
	switch {
	case a.VisitDate == nil:
		return false
	case b.VisitDate == nil:
		return true
	case !a.VisitDate.Equal(*b.VisitDate):
		return a.VisitDate.After(*b.VisitDate)
	default:
		return a.ID.String() > b.ID.String()
	}
}

func templateEntry(in Input, tpl models.VisitTemplate, visit *models.ActualVisit, today time.Time) models.TimelineEntry {
	w := schedule.Schedule(*in.Anchor, tpl.VisitDay, tpl.WindowBeforeDays, tpl.WindowAfterDays, in.Convention)

	entry := models.TimelineEntry{
		TemplateID:    &tpl.ID,
		VisitName:     tpl.VisitName,
		VisitNumber:   tpl.VisitNumber,
		ScheduledDate: timePtr(w.Scheduled),
		WindowStart:   timePtr(w.Start),
		WindowEnd:     timePtr(w.End),
		Procedures:    tpl.Procedures,
	}
	tagSection(&entry, in.Assignment)

	if visit == nil {
		entry.ID = placeholderID(in.Assignment, tpl.ID)
		if w.Scheduled.Before(today) {
			entry.Status = models.TimelineStatusNotScheduled
			entry.IsOverdue = true
		} else {
			entry.Status = models.TimelineStatusUpcoming
		}
		return entry
	}

	entry.ID = visit.ID
	entry.ActualDate = visit.VisitDate
	entry.Status = visit.Status
	entry.ProceduresCompleted = visit.ProceduresCompleted
	entry.VisitNotNeeded = visit.VisitNotNeeded
	if visit.VisitDate != nil {
		within := w.Contains(*visit.VisitDate)
		entry.IsWithinWindow = &within
		// Overdue requires an outstanding "scheduled" status and a date
		// strictly before today. Completed visits are never overdue.
		if visit.Status == models.VisitStatusScheduled && schedule.DateOnly(*visit.VisitDate).Before(today) {
			entry.IsOverdue = true
		}
	}
	if visit.VisitNotNeeded {
		entry.Status = models.TimelineStatusNotNeeded
		entry.IsOverdue = false
		entry.IsWithinWindow = nil
	}
	return entry
}

// unscheduledEntry carries an out-of-protocol visit verbatim: no projected
// window, the recorded date stands on its own.
func unscheduledEntry(in Input, visit models.ActualVisit, today time.Time) models.TimelineEntry {
	entry := models.TimelineEntry{
		ID:                  visit.ID,
		ActualDate:          visit.VisitDate,
		Status:              visit.Status,
		IsUnscheduled:       true,
		UnscheduledReason:   visit.UnscheduledReason,
		ProceduresCompleted: visit.ProceduresCompleted,
		VisitNotNeeded:      visit.VisitNotNeeded,
		VisitName:           "Unscheduled Visit",
	}
	tagSection(&entry, in.Assignment)
	if visit.UnscheduledReason != "" {
		entry.VisitName = visit.UnscheduledReason
	}
	if visit.VisitDate != nil {
		entry.WindowStart = visit.VisitDate
		entry.WindowEnd = visit.VisitDate
		if visit.Status == models.VisitStatusScheduled && schedule.DateOnly(*visit.VisitDate).Before(today) {
			entry.IsOverdue = true
		}
	}
	if entry.Status == "" {
		entry.Status = models.TimelineStatusUnscheduled
	}
	if visit.VisitNotNeeded {
		entry.Status = models.TimelineStatusNotNeeded
		entry.IsOverdue = false
	}
	return entry
}

// recordedEntry renders a template-linked visit when no anchor exists to
// project its window: the recorded date and protocol visit name stand alone.
func recordedEntry(in Input, visit models.ActualVisit, tpl *models.VisitTemplate, today time.Time) models.TimelineEntry {
	entry := models.TimelineEntry{
		ID:                  visit.ID,
		TemplateID:          &tpl.ID,
		VisitName:           tpl.VisitName,
		VisitNumber:         tpl.VisitNumber,
		ActualDate:          visit.VisitDate,
		Status:              visit.Status,
		Procedures:          tpl.Procedures,
		ProceduresCompleted: visit.ProceduresCompleted,
		VisitNotNeeded:      visit.VisitNotNeeded,
	}
	tagSection(&entry, in.Assignment)
	if visit.VisitDate != nil && visit.Status == models.VisitStatusScheduled && schedule.DateOnly(*visit.VisitDate).Before(today) {
		entry.IsOverdue = true
	}
	if visit.VisitNotNeeded {
		entry.Status = models.TimelineStatusNotNeeded
		entry.IsOverdue = false
	}
	return entry
}

// sortEntries orders by scheduled date, falling back to the actual date for
// unscheduled entries. The sort is stable so same-day entries keep their
// construction order across runs.
func sortEntries(entries []models.TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, aok := entryDate(entries[i])
		b, bok := entryDate(entries[j])
		if aok != bok {
			return aok // dated entries before undated ones
		}
		if !aok {
			return false
		}
		return a.Before(b)
	})
}

func entryDate(e models.TimelineEntry) (time.Time, bool) {
	if e.ScheduledDate != nil {
		return *e.ScheduledDate, true
	}
	if e.ActualDate != nil {
		return *e.ActualDate, true
	}
	return time.Time{}, false
}

// placeholderID derives a stable synthetic id for a template with no recorded
// visit yet, unique per (template, section instance) pair.
func placeholderID(assignment *models.SectionAssignment, templateID uuid.UUID) uuid.UUID {
	seed := "placeholder/" + templateID.String()
	if assignment != nil {
		seed = assignment.ID.String() + "/" + seed
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
}

func tagSection(entry *models.TimelineEntry, assignment *models.SectionAssignment) {
	if assignment == nil {
		return
	}
	entry.SectionAssignmentID = &assignment.ID
	entry.SectionCode = assignment.SectionCode
}

func timePtr(t time.Time) *time.Time { return &t }
