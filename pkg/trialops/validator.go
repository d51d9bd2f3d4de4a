package trialops

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
)

// ValidationError carries the field that failed so handlers can return a
// precise 400 body.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var visitStatuses = map[string]bool{
	models.VisitStatusScheduled: true,
	models.VisitStatusCompleted: true,
	models.VisitStatusMissed:    true,
	models.VisitStatusCancelled: true,
}

func parseDateField(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	d, ok := schedule.ParseDate(value)
	if !ok {
		return nil, invalid(field, "must be a YYYY-MM-DD date")
	}
	return &d, nil
}

func parseUUIDField(field, value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, invalid(field, "must be a UUID")
	}
	return &id, nil
}

func ParseCreateStudy(req models.CreateStudyRequest) (models.Study, error) {
	if strings.TrimSpace(req.Code) == "" {
		return models.Study{}, invalid("code", "is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return models.Study{}, invalid("name", "is required")
	}

	convention := req.AnchorConvention
	switch convention {
	case "":
		convention = models.AnchorDayZero
	case models.AnchorDayZero, models.AnchorDayOne:
	default:
		return models.Study{}, invalid("anchor_convention", "must be day_zero or day_one")
	}

	start, err := parseDateField("start_date", req.StartDate)
	if err != nil {
		return models.Study{}, err
	}
	end, err := parseDateField("end_date", req.EndDate)
	if err != nil {
		return models.Study{}, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return models.Study{}, invalid("end_date", "must not precede start_date")
	}

	return models.Study{
		Code:             strings.TrimSpace(req.Code),
		Name:             strings.TrimSpace(req.Name),
		Phase:            req.Phase,
		Sponsor:          req.Sponsor,
		DosingFrequency:  strings.ToLower(strings.TrimSpace(req.DosingFrequency)),
		AnchorConvention: convention,
		StartDate:        start,
		EndDate:          end,
	}, nil
}

func ParseCreateVisitTemplate(studyID uuid.UUID, req models.CreateVisitTemplateRequest) (models.VisitTemplate, error) {
	if strings.TrimSpace(req.VisitName) == "" {
		return models.VisitTemplate{}, invalid("visit_name", "is required")
	}
	if req.WindowBeforeDays < 0 {
		return models.VisitTemplate{}, invalid("window_before_days", "must not be negative")
	}
	if req.WindowAfterDays < 0 {
		return models.VisitTemplate{}, invalid("window_after_days", "must not be negative")
	}

	sectionID, err := parseUUIDField("section_id", req.SectionID)
	if err != nil {
		return models.VisitTemplate{}, err
	}

	return models.VisitTemplate{
		StudyID:          studyID,
		VisitName:        strings.TrimSpace(req.VisitName),
		VisitNumber:      req.VisitNumber,
		VisitDay:         req.VisitDay,
		WindowBeforeDays: req.WindowBeforeDays,
		WindowAfterDays:  req.WindowAfterDays,
		Procedures:       req.Procedures,
		SectionID:        sectionID,
	}, nil
}

func ParseEnrollSubject(studyID uuid.UUID, req models.EnrollSubjectRequest) (models.Subject, error) {
	if strings.TrimSpace(req.SubjectCode) == "" {
		return models.Subject{}, invalid("subject_code", "is required")
	}
	if req.EnrollmentDate == "" {
		return models.Subject{}, invalid("enrollment_date", "is required")
	}

	enrollment, err := parseDateField("enrollment_date", req.EnrollmentDate)
	if err != nil {
		return models.Subject{}, err
	}
	randomization, err := parseDateField("randomization_date", req.RandomizationDate)
	if err != nil {
		return models.Subject{}, err
	}

	return models.Subject{
		StudyID:           studyID,
		SubjectCode:       strings.TrimSpace(req.SubjectCode),
		EnrollmentDate:    enrollment,
		RandomizationDate: randomization,
	}, nil
}

func ParseRecordVisit(subjectID uuid.UUID, req models.RecordVisitRequest) (models.ActualVisit, error) {
	if !visitStatuses[req.Status] {
		return models.ActualVisit{}, invalid("status", "must be scheduled, completed, missed, or cancelled")
	}
	if req.IsUnscheduled && req.VisitScheduleID != "" {
		return models.ActualVisit{}, invalid("visit_schedule_id", "must be empty for an unscheduled visit")
	}
	if req.IPDispensed != nil && *req.IPDispensed < 0 {
		return models.ActualVisit{}, invalid("ip_dispensed", "must not be negative")
	}
	if req.IPReturned != nil && *req.IPReturned < 0 {
		return models.ActualVisit{}, invalid("ip_returned", "must not be negative")
	}

	scheduleID, err := parseUUIDField("visit_schedule_id", req.VisitScheduleID)
	if err != nil {
		return models.ActualVisit{}, err
	}
	sectionID, err := parseUUIDField("subject_section_id", req.SubjectSectionID)
	if err != nil {
		return models.ActualVisit{}, err
	}
	visitDate, err := parseDateField("visit_date", req.VisitDate)
	if err != nil {
		return models.ActualVisit{}, err
	}
	dispenseDate, err := parseDateField("dispense_date", req.DispenseDate)
	if err != nil {
		return models.ActualVisit{}, err
	}
	lastDoseDate, err := parseDateField("last_dose_date", req.LastDoseDate)
	if err != nil {
		return models.ActualVisit{}, err
	}
	if dispenseDate != nil && lastDoseDate != nil && lastDoseDate.Before(*dispenseDate) {
		return models.ActualVisit{}, invalid("last_dose_date", "must not precede dispense_date")
	}

	visit := models.ActualVisit{
		SubjectID:           subjectID,
		VisitScheduleID:     scheduleID,
		VisitDate:           visitDate,
		Status:              req.Status,
		ProceduresCompleted: req.ProceduresCompleted,
		IPDispensed:         req.IPDispensed,
		IPReturned:          req.IPReturned,
		IPID:                strings.TrimSpace(req.IPID),
		ReturnIPID:          strings.TrimSpace(req.ReturnIPID),
		DispenseDate:        dispenseDate,
		LastDoseDate:        lastDoseDate,
		IsUnscheduled:       req.IsUnscheduled,
		UnscheduledReason:   strings.TrimSpace(req.UnscheduledReason),
		SubjectSectionID:    sectionID,
	}
	if req.VisitNotNeeded != nil {
		visit.VisitNotNeeded = *req.VisitNotNeeded
	}
	return visit, nil
}

func ParseOpenSection(subjectID uuid.UUID, req models.OpenSectionRequest) (models.SectionAssignment, error) {
	if req.AnchorDate == "" {
		return models.SectionAssignment{}, invalid("anchor_date", "is required")
	}
	anchor, err := parseDateField("anchor_date", req.AnchorDate)
	if err != nil {
		return models.SectionAssignment{}, err
	}
	studySectionID, err := parseUUIDField("study_section_id", req.StudySectionID)
	if err != nil {
		return models.SectionAssignment{}, err
	}

	return models.SectionAssignment{
		SubjectID:      subjectID,
		StudySectionID: studySectionID,
		SectionCode:    strings.TrimSpace(req.SectionCode),
		SectionOrder:   req.SectionOrder,
		AnchorDate:     anchor,
	}, nil
}

func ParseComplianceRow(subjectID uuid.UUID, req models.RecordComplianceRowRequest) (models.DrugComplianceRow, error) {
	if strings.TrimSpace(req.IPID) == "" && req.VisitID == "" {
		return models.DrugComplianceRow{}, invalid("ip_id", "either ip_id or visit_id is required")
	}
	if req.DispensedCount < 0 {
		return models.DrugComplianceRow{}, invalid("dispensed_count", "must not be negative")
	}
	if req.ReturnedCount < 0 {
		return models.DrugComplianceRow{}, invalid("returned_count", "must not be negative")
	}
	if req.ExpectedTaken < 0 {
		return models.DrugComplianceRow{}, invalid("expected_taken", "must not be negative")
	}

	visitID, err := parseUUIDField("visit_id", req.VisitID)
	if err != nil {
		return models.DrugComplianceRow{}, err
	}
	assessment, err := parseDateField("assessment_date", req.AssessmentDate)
	if err != nil {
		return models.DrugComplianceRow{}, err
	}

	return models.DrugComplianceRow{
		SubjectID:            subjectID,
		VisitID:              visitID,
		IPID:                 strings.TrimSpace(req.IPID),
		AssessmentDate:       assessment,
		DispensedCount:       req.DispensedCount,
		ReturnedCount:        req.ReturnedCount,
		ExpectedTaken:        req.ExpectedTaken,
		CompliancePercentage: req.CompliancePercentage,
		IsCompliant:          req.IsCompliant,
	}, nil
}
