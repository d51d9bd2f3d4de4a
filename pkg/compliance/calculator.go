package compliance

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

// DispenseEvent is one bottle handed to the subject.
type DispenseEvent struct {
	IPID      string
	Quantity  int
	StartDate time.Time
	VisitID   *uuid.UUID
}

// ReturnEvent is one bottle coming back, with the subject's reported last-dose
// date and the remaining tablet count.
type ReturnEvent struct {
	IPID         string
	Quantity     int
	LastDoseDate time.Time
	VisitID      *uuid.UUID
}

// EventsFromVisits extracts dispense/return pairs from recorded visit rows.
// The returned-bottle id resolution order is return_ip_id first, then the
// visit's dispense ip_id; this single function is the only place that
// precedence is encoded.
func EventsFromVisits(visits []models.ActualVisit) ([]DispenseEvent, []ReturnEvent) {
	var dispenses []DispenseEvent
	var returns []ReturnEvent
	for i := range visits {
		visit := &visits[i]
		if visit.IPDispensed != nil && visit.IPID != "" {
			start := visit.DispenseDate
			if start == nil {
				start = visit.VisitDate
			}
			if start != nil {
				dispenses = append(dispenses, DispenseEvent{
					IPID:      visit.IPID,
					Quantity:  *visit.IPDispensed,
					StartDate: schedule.DateOnly(*start),
					VisitID:   &visit.ID,
				})
			}
		}
		if visit.IPReturned != nil {
			if bottle := returnedBottleID(visit); bottle != "" {
				last := visit.LastDoseDate
				if last == nil {
					last = visit.VisitDate
				}
				if last != nil {
					returns = append(returns, ReturnEvent{
						IPID:         bottle,
						Quantity:     *visit.IPReturned,
						LastDoseDate: schedule.DateOnly(*last),
						VisitID:      &visit.ID,
					})
				}
			}
		}
	}
	return dispenses, returns
}

func returnedBottleID(visit *models.ActualVisit) string {
	if visit.ReturnIPID != "" {
		return visit.ReturnIPID
	}
	return visit.IPID
}

// Compute derives one compliance record per return event. Each dispense/return
// pair is an independent cycle; subject-level aggregation is the caller's
// business. The percentage denominator is expected doses over elapsed days,
// not tablets dispensed, so values above 100 are legitimate output.
func Compute(dispenses []DispenseEvent, returns []ReturnEvent, freq Frequency) []models.ComplianceRecord {
	ordered := make([]ReturnEvent, len(returns))
	copy(ordered, returns)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].LastDoseDate.Equal(ordered[j].LastDoseDate) {
			return ordered[i].LastDoseDate.Before(ordered[j].LastDoseDate)
		}
		return ordered[i].IPID < ordered[j].IPID
	})

	records := make([]models.ComplianceRecord, 0, len(ordered))
	for _, ret := range ordered {
		records = append(records, cycleRecord(dispenses, ret, freq))
	}
	return records
}

func cycleRecord(dispenses []DispenseEvent, ret ReturnEvent, freq Frequency) models.ComplianceRecord {
	record := models.ComplianceRecord{
		IPID:          ret.IPID,
		VisitID:       ret.VisitID,
		ReturnedCount: ret.Quantity,
		Degraded:      freq.Degraded,
	}
	last := ret.LastDoseDate
	record.LastDoseDate = &last

	dispense, ok := matchDispense(dispenses, ret)
	if !ok {
		// A return with no dispense history cannot yield an expected-dose
		// count; surface the row rather than inventing a denominator.
		record.Degraded = true
		return record
	}

	start := dispense.StartDate
	record.DispenseDate = &start
	record.DispensedCount = dispense.Quantity

	// A dispense after the reported last dose means the chronology is
	// inverted; the cycle still renders but is no more trustworthy than a
	// return with no dispense history.
	if dispense.StartDate.After(ret.LastDoseDate) {
		record.Degraded = true
	}

	elapsed := schedule.DaysBetween(dispense.StartDate, ret.LastDoseDate)
	if elapsed < 0 {
		elapsed = 0
	}
	record.ElapsedDays = elapsed

	expected := int(math.Round(float64(elapsed) * freq.Multiplier))
	if expected < 0 {
		expected = 0
	}
	record.ExpectedTaken = expected

	if expected > 0 {
		pct := int(math.Round(100 * float64(dispense.Quantity-ret.Quantity) / float64(expected)))
		record.CompliancePercentage = &pct
	}
	return record
}

// matchDispense finds the most recent dispense of the returned bottle at or
// before the last-dose date; if the subject reported a last dose earlier than
// every dispense, the earliest dispense still anchors the cycle.
func matchDispense(dispenses []DispenseEvent, ret ReturnEvent) (DispenseEvent, bool) {
	var best DispenseEvent
	var fallback DispenseEvent
	found, haveFallback := false, false
	for _, d := range dispenses {
		if d.IPID != ret.IPID {
			continue
		}
		if !haveFallback || d.StartDate.Before(fallback.StartDate) {
			fallback, haveFallback = d, true
		}
		if d.StartDate.After(ret.LastDoseDate) {
			continue
		}
		if !found || d.StartDate.After(best.StartDate) {
			best, found = d, true
		}
	}
	if found {
		return best, true
	}
	return fallback, haveFallback
}
