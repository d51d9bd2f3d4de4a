package compliance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

func TestComputePercentageUsesExpectedDoseDenominator(t *testing.T) {
	visitID := uuid.New()
	dispenses := []DispenseEvent{{
		IPID:      "BTL-001",
		Quantity:  100,
		StartDate: schedule.Date(2024, time.January, 1),
	}}
	returns := []ReturnEvent{{
		IPID:         "BTL-001",
		Quantity:     80,
		LastDoseDate: schedule.Date(2024, time.January, 11),
		VisitID:      &visitID,
	}}

	records := Compute(dispenses, returns, DefaultCatalog().Resolve("once_daily"))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.ElapsedDays != 10 {
		t.Fatalf("expected 10 elapsed days, got %d", r.ElapsedDays)
	}
	if r.ExpectedTaken != 10 {
		t.Fatalf("expected 10 expected doses, got %d", r.ExpectedTaken)
	}
	// 20 tablets taken over 10 expected doses: 200%. The denominator is
	// expected doses, not tablets dispensed, and values over 100 stand.
	if r.CompliancePercentage == nil || *r.CompliancePercentage != 200 {
		t.Fatalf("expected 200%%, got %v", r.CompliancePercentage)
	}
	if r.Degraded {
		t.Fatal("validated frequency code must not flag degraded")
	}
}

func TestComputeSameDayCycleHasNoPercentage(t *testing.T) {
	dispenses := []DispenseEvent{{
		IPID:      "BTL-002",
		Quantity:  30,
		StartDate: schedule.Date(2024, time.March, 5),
	}}
	returns := []ReturnEvent{{
		IPID:         "BTL-002",
		Quantity:     30,
		LastDoseDate: schedule.Date(2024, time.March, 5),
	}}

	records := Compute(dispenses, returns, DefaultCatalog().Resolve("once_daily"))
	r := records[0]
	if r.ExpectedTaken != 0 {
		t.Fatalf("expected 0 expected doses, got %d", r.ExpectedTaken)
	}
	if r.CompliancePercentage != nil {
		t.Fatalf("zero expected doses must yield no percentage, got %d", *r.CompliancePercentage)
	}
}

func TestComputeAppliesFrequencyMultiplier(t *testing.T) {
	dispenses := []DispenseEvent{{
		IPID:      "BTL-003",
		Quantity:  60,
		StartDate: schedule.Date(2024, time.February, 1),
	}}
	returns := []ReturnEvent{{
		IPID:         "BTL-003",
		Quantity:     20,
		LastDoseDate: schedule.Date(2024, time.February, 11),
	}}

	records := Compute(dispenses, returns, DefaultCatalog().Resolve("twice_daily"))
	r := records[0]
	if r.ExpectedTaken != 20 {
		t.Fatalf("expected 20 expected doses at twice daily, got %d", r.ExpectedTaken)
	}
	if r.CompliancePercentage == nil || *r.CompliancePercentage != 200 {
		t.Fatalf("expected 200%%, got %v", r.CompliancePercentage)
	}

	weekly := Compute(dispenses, returns, DefaultCatalog().Resolve("weekly"))
	if weekly[0].ExpectedTaken != 1 {
		t.Fatalf("expected round(10/7)=1 weekly dose, got %d", weekly[0].ExpectedTaken)
	}
}

func TestComputeMatchesMostRecentPriorDispense(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	dispenses := []DispenseEvent{
		{IPID: "BTL-004", Quantity: 30, StartDate: schedule.Date(2024, time.January, 1), VisitID: &first},
		{IPID: "BTL-004", Quantity: 30, StartDate: schedule.Date(2024, time.February, 1), VisitID: &second},
	}
	returns := []ReturnEvent{{
		IPID:         "BTL-004",
		Quantity:     10,
		LastDoseDate: schedule.Date(2024, time.February, 15),
	}}

	records := Compute(dispenses, returns, DefaultCatalog().Resolve("once_daily"))
	r := records[0]
	if r.DispenseDate == nil || !r.DispenseDate.Equal(schedule.Date(2024, time.February, 1)) {
		t.Fatalf("expected match against the February dispense, got %v", r.DispenseDate)
	}
	if r.ElapsedDays != 14 {
		t.Fatalf("expected 14 elapsed days, got %d", r.ElapsedDays)
	}
}

func TestComputeReturnWithoutDispenseIsDegraded(t *testing.T) {
	returns := []ReturnEvent{{
		IPID:         "BTL-404",
		Quantity:     5,
		LastDoseDate: schedule.Date(2024, time.April, 1),
	}}
	records := Compute(nil, returns, DefaultCatalog().Resolve("once_daily"))
	if len(records) != 1 {
		t.Fatalf("expected the orphan return to surface, got %d records", len(records))
	}
	if !records[0].Degraded {
		t.Fatal("return without dispense history must be degraded")
	}
	if records[0].CompliancePercentage != nil {
		t.Fatal("no dispense history must not produce a percentage")
	}
}

func TestComputeFutureDispenseIsDegraded(t *testing.T) {
	dispenses := []DispenseEvent{{
		IPID:      "BTL-005",
		Quantity:  30,
		StartDate: schedule.Date(2024, time.June, 20),
	}}
	returns := []ReturnEvent{{
		IPID:         "BTL-005",
		Quantity:     10,
		LastDoseDate: schedule.Date(2024, time.June, 10),
	}}

	records := Compute(dispenses, returns, DefaultCatalog().Resolve("once_daily"))
	r := records[0]
	if !r.Degraded {
		t.Fatal("dispense after the reported last dose must flag degraded")
	}
	if r.ElapsedDays != 0 {
		t.Fatalf("inverted chronology must clamp elapsed to 0, got %d", r.ElapsedDays)
	}
	if r.CompliancePercentage != nil {
		t.Fatalf("inverted chronology must not produce a percentage, got %d", *r.CompliancePercentage)
	}
}

func TestComputeTreatsCyclesIndependently(t *testing.T) {
	v1, v2 := uuid.New(), uuid.New()
	dispenses := []DispenseEvent{
		{IPID: "BTL-A", Quantity: 30, StartDate: schedule.Date(2024, time.January, 1)},
		{IPID: "BTL-B", Quantity: 30, StartDate: schedule.Date(2024, time.February, 1)},
	}
	returns := []ReturnEvent{
		{IPID: "BTL-A", Quantity: 0, LastDoseDate: schedule.Date(2024, time.January, 31), VisitID: &v1},
		{IPID: "BTL-B", Quantity: 15, LastDoseDate: schedule.Date(2024, time.February, 16), VisitID: &v2},
	}

	records := Compute(dispenses, returns, DefaultCatalog().Resolve("once_daily"))
	if len(records) != 2 {
		t.Fatalf("expected one record per cycle, got %d", len(records))
	}
	if *records[0].CompliancePercentage != 100 {
		t.Fatalf("first cycle expected 100%%, got %d", *records[0].CompliancePercentage)
	}
	if *records[1].CompliancePercentage != 100 {
		t.Fatalf("second cycle expected 100%%, got %d", *records[1].CompliancePercentage)
	}
}

func TestEventsFromVisitsResolvesBottleIDPrecedence(t *testing.T) {
	qty30, qty10 := 30, 10
	visits := []models.ActualVisit{
		{
			ID:           uuid.New(),
			IPID:         "BTL-A",
			IPDispensed:  &qty30,
			DispenseDate: date(2024, time.January, 1),
			Status:       models.VisitStatusCompleted,
		},
		{
			ID:           uuid.New(),
			IPID:         "BTL-B",
			ReturnIPID:   "BTL-A", // returned bottle differs from dispensed one
			IPDispensed:  &qty30,
			IPReturned:   &qty10,
			DispenseDate: date(2024, time.February, 1),
			LastDoseDate: date(2024, time.January, 31),
			Status:       models.VisitStatusCompleted,
		},
	}

	dispenses, returns := EventsFromVisits(visits)
	if len(dispenses) != 2 || len(returns) != 1 {
		t.Fatalf("expected 2 dispenses and 1 return, got %d and %d", len(dispenses), len(returns))
	}
	if returns[0].IPID != "BTL-A" {
		t.Fatalf("return_ip_id must win over ip_id, got %s", returns[0].IPID)
	}
}

func date(y int, m time.Month, d int) *time.Time {
	t := schedule.Date(y, m, d)
	return &t
}
