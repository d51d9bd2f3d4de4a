package models

import (
	"time"

	"github.com/google/uuid"
)

// Recorded visit statuses entered by site coordinators.
const (
	VisitStatusScheduled = "scheduled"
	VisitStatusCompleted = "completed"
	VisitStatusMissed    = "missed"
	VisitStatusCancelled = "cancelled"
)

// Derived timeline statuses. These never appear on a stored visit row; they are
// computed per render against an explicit as-of date.
const (
	TimelineStatusUpcoming     = "upcoming"
	TimelineStatusNotScheduled = "not_scheduled"
	TimelineStatusNotNeeded    = "not_needed"
	TimelineStatusUnscheduled  = "unscheduled"
)

// Anchor conventions. Day-one protocols label their baseline visit "Day 1", so
// the stored day offset is shifted down by one before any date arithmetic.
const (
	AnchorDayZero = "day_zero"
	AnchorDayOne  = "day_one"
)

// Study operations
type Study struct {
	ID               uuid.UUID       `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Phase            string          `json:"phase,omitempty"`
	Sponsor          string          `json:"sponsor,omitempty"`
	Status           string          `json:"status"`
	DosingFrequency  string          `json:"dosing_frequency,omitempty"`
	AnchorConvention string          `json:"anchor_convention"`
	StartDate        *time.Time      `json:"start_date,omitempty"`
	EndDate          *time.Time      `json:"end_date,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	VisitTemplates   []VisitTemplate `json:"visit_templates,omitempty"`
	ActiveSubjects   int             `json:"active_subjects,omitempty"`
	TotalSubjects    int             `json:"total_subjects,omitempty"`
}

// VisitTemplate is one row of a protocol's schedule of events: a named visit at
// a fixed day offset from the anchor, with an allowed window around it.
type VisitTemplate struct {
	ID               uuid.UUID  `json:"id"`
	StudyID          uuid.UUID  `json:"study_id"`
	VisitName        string     `json:"visit_name"`
	VisitNumber      string     `json:"visit_number,omitempty"`
	VisitDay         int        `json:"visit_day"`
	WindowBeforeDays int        `json:"window_before_days"`
	WindowAfterDays  int        `json:"window_after_days"`
	Procedures       []string   `json:"procedures,omitempty"`
	SectionID        *uuid.UUID `json:"section_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Subject struct {
	ID                uuid.UUID  `json:"id"`
	StudyID           uuid.UUID  `json:"study_id"`
	SubjectCode       string     `json:"subject_code"`
	Status            string     `json:"status"`
	EnrollmentDate    *time.Time `json:"enrollment_date,omitempty"`
	RandomizationDate *time.Time `json:"randomization_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ActualVisit is a visit a coordinator scheduled or logged, including any
// investigational-product dispense/return data captured at that visit.
type ActualVisit struct {
	ID                  uuid.UUID  `json:"id"`
	SubjectID           uuid.UUID  `json:"subject_id"`
	VisitScheduleID     *uuid.UUID `json:"visit_schedule_id,omitempty"`
	VisitDate           *time.Time `json:"visit_date,omitempty"`
	Status              string     `json:"status"`
	ProceduresCompleted []string   `json:"procedures_completed,omitempty"`
	IPDispensed         *int       `json:"ip_dispensed,omitempty"`
	IPReturned          *int       `json:"ip_returned,omitempty"`
	IPID                string     `json:"ip_id,omitempty"`
	ReturnIPID          string     `json:"return_ip_id,omitempty"`
	DispenseDate        *time.Time `json:"dispense_date,omitempty"`
	LastDoseDate        *time.Time `json:"last_dose_date,omitempty"`
	VisitNotNeeded      bool       `json:"visit_not_needed,omitempty"`
	IsUnscheduled       bool       `json:"is_unscheduled,omitempty"`
	UnscheduledReason   string     `json:"unscheduled_reason,omitempty"`
	SubjectSectionID    *uuid.UUID `json:"subject_section_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SectionAssignment re-bases a subject onto a protocol sub-phase with its own
// anchor date. Historical assignments persist after the section ends.
type SectionAssignment struct {
	ID             uuid.UUID  `json:"id"`
	SubjectID      uuid.UUID  `json:"subject_id"`
	StudySectionID *uuid.UUID `json:"study_section_id,omitempty"`
	SectionCode    string     `json:"section_code,omitempty"`
	SectionOrder   int        `json:"section_order,omitempty"`
	AnchorDate     *time.Time `json:"anchor_date,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DrugComplianceRow is a stored per-cycle compliance assessment, recorded
// against either the returning visit or (legacy rows) the dispensing visit.
type DrugComplianceRow struct {
	ID                   uuid.UUID  `json:"id"`
	SubjectID            uuid.UUID  `json:"subject_id"`
	VisitID              *uuid.UUID `json:"visit_id,omitempty"`
	IPID                 string     `json:"ip_id"`
	AssessmentDate       *time.Time `json:"assessment_date,omitempty"`
	DispensedCount       int        `json:"dispensed_count"`
	ReturnedCount        int        `json:"returned_count"`
	ExpectedTaken        int        `json:"expected_taken"`
	CompliancePercentage *int       `json:"compliance_percentage,omitempty"`
	IsCompliant          *bool      `json:"is_compliant,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// TimelineEntry is the derived, per-render view row: one per protocol visit per
// section instance, plus one per unscheduled visit. Never persisted.
type TimelineEntry struct {
	ID                  uuid.UUID         `json:"id"`
	TemplateID          *uuid.UUID        `json:"template_id,omitempty"`
	SectionAssignmentID *uuid.UUID        `json:"section_assignment_id,omitempty"`
	SectionCode         string            `json:"section_code,omitempty"`
	VisitName           string            `json:"visit_name"`
	VisitNumber         string            `json:"visit_number,omitempty"`
	ScheduledDate       *time.Time        `json:"scheduled_date,omitempty"`
	WindowStart         *time.Time        `json:"window_start,omitempty"`
	WindowEnd           *time.Time        `json:"window_end,omitempty"`
	ActualDate          *time.Time        `json:"actual_date,omitempty"`
	Status              string            `json:"status"`
	IsOverdue           bool              `json:"is_overdue"`
	IsWithinWindow      *bool             `json:"is_within_window,omitempty"`
	IsUnscheduled       bool              `json:"is_unscheduled,omitempty"`
	UnscheduledReason   string            `json:"unscheduled_reason,omitempty"`
	VisitNotNeeded      bool              `json:"visit_not_needed,omitempty"`
	Procedures          []string          `json:"procedures,omitempty"`
	ProceduresCompleted []string          `json:"procedures_completed,omitempty"`
	Compliance          *ComplianceRecord `json:"compliance,omitempty"`
}

// ComplianceRecord is a derived per-dispensing-cycle result. Percentage is nil
// when expected-taken is zero; values above 100 are preserved.
type ComplianceRecord struct {
	IPID                 string     `json:"ip_id"`
	VisitID              *uuid.UUID `json:"visit_id,omitempty"`
	DispenseDate         *time.Time `json:"dispense_date,omitempty"`
	LastDoseDate         *time.Time `json:"last_dose_date,omitempty"`
	DispensedCount       int        `json:"dispensed_count"`
	ReturnedCount        int        `json:"returned_count"`
	ElapsedDays          int        `json:"elapsed_days"`
	ExpectedTaken        int        `json:"expected_taken"`
	CompliancePercentage *int       `json:"compliance_percentage,omitempty"`
	Degraded             bool       `json:"degraded,omitempty"`
}

// TimelineView is the full derived payload handed back to rendering code.
type TimelineView struct {
	SubjectID     uuid.UUID          `json:"subject_id"`
	AsOf          time.Time          `json:"as_of"`
	MissingAnchor bool               `json:"missing_anchor,omitempty"`
	Entries       []TimelineEntry    `json:"entries"`
	Compliance    []ComplianceRecord `json:"compliance,omitempty"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // visit_recorded, visit_updated, section_opened, compliance_recorded, timeline_recomputed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

type AuditLog struct {
	ID        int64                  `json:"id"`
	StudyID   uuid.UUID              `json:"study_id"`
	SubjectID *uuid.UUID             `json:"subject_id,omitempty"`
	Actor     string                 `json:"actor"`
	Role      string                 `json:"role,omitempty"`
	Action    string                 `json:"action"`
	Entity    string                 `json:"entity,omitempty"`
	EntityID  string                 `json:"entity_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Request payloads. Dates arrive as YYYY-MM-DD strings and are parsed at the
// edge; an unparseable date is rejected there, never coerced.
type CreateStudyRequest struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	Phase            string `json:"phase,omitempty"`
	Sponsor          string `json:"sponsor,omitempty"`
	DosingFrequency  string `json:"dosing_frequency,omitempty"`
	AnchorConvention string `json:"anchor_convention,omitempty"`
	StartDate        string `json:"start_date,omitempty"`
	EndDate          string `json:"end_date,omitempty"`
}

type UpdateStudyStatusRequest struct {
	Status string `json:"status"`
}

type CreateVisitTemplateRequest struct {
	VisitName        string   `json:"visit_name"`
	VisitNumber      string   `json:"visit_number,omitempty"`
	VisitDay         int      `json:"visit_day"`
	WindowBeforeDays int      `json:"window_before_days,omitempty"`
	WindowAfterDays  int      `json:"window_after_days,omitempty"`
	Procedures       []string `json:"procedures,omitempty"`
	SectionID        string   `json:"section_id,omitempty"`
}

type EnrollSubjectRequest struct {
	SubjectCode       string `json:"subject_code"`
	EnrollmentDate    string `json:"enrollment_date"`
	RandomizationDate string `json:"randomization_date,omitempty"`
}

type RecordVisitRequest struct {
	VisitScheduleID     string   `json:"visit_schedule_id,omitempty"`
	VisitDate           string   `json:"visit_date,omitempty"`
	Status              string   `json:"status"`
	ProceduresCompleted []string `json:"procedures_completed,omitempty"`
	IPDispensed         *int     `json:"ip_dispensed,omitempty"`
	IPReturned          *int     `json:"ip_returned,omitempty"`
	IPID                string   `json:"ip_id,omitempty"`
	ReturnIPID          string   `json:"return_ip_id,omitempty"`
	DispenseDate        string   `json:"dispense_date,omitempty"`
	LastDoseDate        string   `json:"last_dose_date,omitempty"`
	VisitNotNeeded      *bool    `json:"visit_not_needed,omitempty"`
	IsUnscheduled       bool     `json:"is_unscheduled,omitempty"`
	UnscheduledReason   string   `json:"unscheduled_reason,omitempty"`
	SubjectSectionID    string   `json:"subject_section_id,omitempty"`
}

type OpenSectionRequest struct {
	StudySectionID string `json:"study_section_id,omitempty"`
	SectionCode    string `json:"section_code,omitempty"`
	SectionOrder   int    `json:"section_order,omitempty"`
	AnchorDate     string `json:"anchor_date"`
}

type RecordComplianceRowRequest struct {
	VisitID              string `json:"visit_id,omitempty"`
	IPID                 string `json:"ip_id"`
	AssessmentDate       string `json:"assessment_date,omitempty"`
	DispensedCount       int    `json:"dispensed_count"`
	ReturnedCount        int    `json:"returned_count"`
	ExpectedTaken        int    `json:"expected_taken"`
	CompliancePercentage *int   `json:"compliance_percentage,omitempty"`
	IsCompliant          *bool  `json:"is_compliant,omitempty"`
}
