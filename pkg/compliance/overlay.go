package compliance

import (
	"sort"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

// AttachRecords overlays freshly computed cycle records onto timeline entries
// by visit id. Entries are modified in place; records with no matching entry
// are left for the caller to report alongside the timeline.
func AttachRecords(entries []models.TimelineEntry, records []models.ComplianceRecord) {
	index := entryIndex(entries)
	for i := range records {
		if records[i].VisitID == nil {
			continue
		}
		if pos, ok := index[*records[i].VisitID]; ok {
			entries[pos].Compliance = &records[i]
		}
	}
}

// AttachStoredRows overlays historically stored compliance rows. Matching is
// by visit id first, then by (returned bottle id, assessment date) against the
// dispense history — legacy rows were recorded against the dispensing visit
// rather than the returning one, and both populations must keep resolving.
// Rows are applied oldest first so the latest row wins per visit.
func AttachStoredRows(entries []models.TimelineEntry, rows []models.DrugComplianceRow, dispenses []DispenseEvent) {
	index := entryIndex(entries)

	ordered := make([]models.DrugComplianceRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	for _, row := range ordered {
		pos, ok := resolveRow(row, index, dispenses)
		if !ok {
			continue
		}
		record := rowRecord(row)
		entries[pos].Compliance = &record
	}
}

func resolveRow(row models.DrugComplianceRow, index map[uuid.UUID]int, dispenses []DispenseEvent) (int, bool) {
	if row.VisitID != nil {
		if pos, ok := index[*row.VisitID]; ok {
			return pos, true
		}
	}
	if row.AssessmentDate == nil || row.IPID == "" {
		return 0, false
	}
	for _, d := range dispenses {
		if d.IPID != row.IPID || d.VisitID == nil {
			continue
		}
		if schedule.SameDay(d.StartDate, *row.AssessmentDate) {
			if pos, ok := index[*d.VisitID]; ok {
				return pos, true
			}
		}
	}
	return 0, false
}

func rowRecord(row models.DrugComplianceRow) models.ComplianceRecord {
	record := models.ComplianceRecord{
		IPID:                 row.IPID,
		VisitID:              row.VisitID,
		DispensedCount:       row.DispensedCount,
		ReturnedCount:        row.ReturnedCount,
		ExpectedTaken:        row.ExpectedTaken,
		CompliancePercentage: row.CompliancePercentage,
	}
	if row.AssessmentDate != nil {
		d := schedule.DateOnly(*row.AssessmentDate)
		record.LastDoseDate = &d
	}
	return record
}

func entryIndex(entries []models.TimelineEntry) map[uuid.UUID]int {
	index := make(map[uuid.UUID]int, len(entries))
	for i := range entries {
		index[entries[i].ID] = i
	}
	return index
}
