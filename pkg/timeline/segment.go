package timeline

import (
	"sort"
	"time"

	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

// Segment partitions a subject's templates and visits by section assignment so
// each partition can be re-anchored independently.
func Segment(subject models.Subject, assignments []models.SectionAssignment, templates []models.VisitTemplate, visits []models.ActualVisit, conv schedule.AnchorConvention) []Input {
	if len(assignments) == 0 {
		return []Input{{
			Templates:  templates,
			Visits:     visits,
			Anchor:     subjectAnchor(subject),
			Convention: conv,
		}}
	}

	ordered := make([]models.SectionAssignment, len(assignments))
	copy(ordered, assignments)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SectionOrder != ordered[j].SectionOrder {
			return ordered[i].SectionOrder < ordered[j].SectionOrder
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	inputs := make([]Input, 0, len(ordered)+1)
	assigned := make(map[string]struct{})
	for i := range ordered {
		assignment := ordered[i]
		inputs = append(inputs, Input{
			Templates:  sectionTemplates(templates, assignment),
			Visits:     sectionVisits(visits, assignment, assigned),
			Anchor:     assignment.AnchorDate,
			Convention: conv,
			Assignment: &ordered[i],
		})
	}

	// Visits recorded before section tagging existed carry no assignment id.
	// They ride along in a trailing anchorless partition so they still appear
	// on the timeline instead of silently disappearing.
	var orphans []models.ActualVisit
	for _, visit := range visits {
		if _, ok := assigned[visit.ID.String()]; !ok {
			orphans = append(orphans, visit)
		}
	}
	if len(orphans) > 0 {
		inputs = append(inputs, Input{Visits: orphans, Convention: conv})
	}
	return inputs
}

// Build runs the full pipeline: segment, reconcile each partition, concatenate
// and final-sort by date. Cross-section ordering is purely chronological; the
// section tag on each entry is the only grouping signal consumers get.
func Build(subject models.Subject, assignments []models.SectionAssignment, templates []models.VisitTemplate, visits []models.ActualVisit, conv schedule.AnchorConvention, today time.Time) ([]models.TimelineEntry, bool) {
	inputs := Segment(subject, assignments, templates, visits, conv)

	anchored := false
	var entries []models.TimelineEntry
	for _, in := range inputs {
		if in.Anchor != nil {
			anchored = true
		}
		entries = append(entries, Reconcile(in, today)...)
	}
	sortEntries(entries)

	missingAnchor := !anchored && len(templates) > 0
	return entries, missingAnchor
}

// sectionTemplates filters the template set to the assignment's section. When
// no template carries the section tag the full set is used, so an incompletely
// tagged protocol never yields an empty timeline.
func sectionTemplates(templates []models.VisitTemplate, assignment models.SectionAssignment) []models.VisitTemplate {
	if assignment.StudySectionID == nil {
		return templates
	}
	var tagged []models.VisitTemplate
	for _, tpl := range templates {
		if tpl.SectionID != nil && *tpl.SectionID == *assignment.StudySectionID {
			tagged = append(tagged, tpl)
		}
	}
	if len(tagged) == 0 {
		return templates
	}
	return tagged
}

func sectionVisits(visits []models.ActualVisit, assignment models.SectionAssignment, assigned map[string]struct{}) []models.ActualVisit {
	var matched []models.ActualVisit
	for _, visit := range visits {
		if visit.SubjectSectionID != nil && *visit.SubjectSectionID == assignment.ID {
			matched = append(matched, visit)
			assigned[visit.ID.String()] = struct{}{}
		}
	}
	return matched
}

// subjectAnchor resolves the flat-timeline anchor: randomization date first,
// enrollment date as the fallback.
func subjectAnchor(subject models.Subject) *time.Time {
	if subject.RandomizationDate != nil {
		return subject.RandomizationDate
	}
	return subject.EnrollmentDate
}
