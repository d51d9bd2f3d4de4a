package compliance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

func TestAttachRecordsByVisitID(t *testing.T) {
	visitID := uuid.New()
	entries := []models.TimelineEntry{
		{ID: uuid.New(), VisitName: "Week 1"},
		{ID: visitID, VisitName: "Week 2"},
	}
	pct := 90
	records := []models.ComplianceRecord{{IPID: "BTL-1", VisitID: &visitID, CompliancePercentage: &pct}}

	AttachRecords(entries, records)
	if entries[0].Compliance != nil {
		t.Fatal("unmatched entry must stay bare")
	}
	if entries[1].Compliance == nil || *entries[1].Compliance.CompliancePercentage != 90 {
		t.Fatal("expected compliance overlaid on the matched entry")
	}
}

func TestAttachStoredRowsFallsBackToDispenseKey(t *testing.T) {
	dispensingVisit := uuid.New()
	entries := []models.TimelineEntry{{ID: dispensingVisit, VisitName: "Week 4"}}
	dispenses := []DispenseEvent{{
		IPID:      "BTL-9",
		Quantity:  30,
		StartDate: schedule.Date(2024, time.May, 1),
		VisitID:   &dispensingVisit,
	}}
	// Legacy row: no visit id, recorded against the dispensing date.
	rows := []models.DrugComplianceRow{{
		ID:             uuid.New(),
		IPID:           "BTL-9",
		AssessmentDate: date(2024, time.May, 1),
		DispensedCount: 30,
		ReturnedCount:  10,
		ExpectedTaken:  20,
	}}

	AttachStoredRows(entries, rows, dispenses)
	if entries[0].Compliance == nil {
		t.Fatal("expected legacy row resolved via (bottle id, assessment date)")
	}
	if entries[0].Compliance.ExpectedTaken != 20 {
		t.Fatalf("stored expected-taken lost: %d", entries[0].Compliance.ExpectedTaken)
	}
}

func TestAttachStoredRowsLatestWinsPerVisit(t *testing.T) {
	visitID := uuid.New()
	entries := []models.TimelineEntry{{ID: visitID}}
	early, late := 50, 75
	rows := []models.DrugComplianceRow{
		{
			ID:                   uuid.New(),
			VisitID:              &visitID,
			IPID:                 "BTL-2",
			CompliancePercentage: &late,
			CreatedAt:            schedule.Date(2024, time.June, 2),
		},
		{
			ID:                   uuid.New(),
			VisitID:              &visitID,
			IPID:                 "BTL-2",
			CompliancePercentage: &early,
			CreatedAt:            schedule.Date(2024, time.June, 1),
		},
	}

	AttachStoredRows(entries, rows, nil)
	if entries[0].Compliance == nil || *entries[0].Compliance.CompliancePercentage != 75 {
		t.Fatal("expected the most recently created row to win")
	}
}
