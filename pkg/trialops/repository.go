package trialops

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type studyModel struct {
	ID               uuid.UUID  `gorm:"primaryKey;column:id"`
	Code             string     `gorm:"column:code;uniqueIndex"`
	Name             string     `gorm:"column:name"`
	Phase            string     `gorm:"column:phase"`
	Sponsor          string     `gorm:"column:sponsor"`
	Status           string     `gorm:"column:status"`
	DosingFrequency  string     `gorm:"column:dosing_frequency"`
	AnchorConvention string     `gorm:"column:anchor_convention"`
	StartDate        *time.Time `gorm:"column:start_date"`
	EndDate          *time.Time `gorm:"column:end_date"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (studyModel) TableName() string { return "studies" }

type visitTemplateModel struct {
	ID               uuid.UUID      `gorm:"primaryKey;column:id"`
	StudyID          uuid.UUID      `gorm:"column:study_id;index"`
	VisitName        string         `gorm:"column:visit_name"`
	VisitNumber      string         `gorm:"column:visit_number"`
	VisitDay         int            `gorm:"column:visit_day"`
	WindowBeforeDays int            `gorm:"column:window_before_days"`
	WindowAfterDays  int            `gorm:"column:window_after_days"`
	Procedures       datatypes.JSON `gorm:"column:procedures"`
	SectionID        *uuid.UUID     `gorm:"column:section_id"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
}

func (visitTemplateModel) TableName() string { return "visit_templates" }

type subjectModel struct {
	ID                uuid.UUID  `gorm:"primaryKey;column:id"`
	StudyID           uuid.UUID  `gorm:"column:study_id;index"`
	SubjectCode       string     `gorm:"column:subject_code"`
	Status            string     `gorm:"column:status"`
	EnrollmentDate    *time.Time `gorm:"column:enrollment_date"`
	RandomizationDate *time.Time `gorm:"column:randomization_date"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
}

func (subjectModel) TableName() string { return "subjects" }

type visitModel struct {
	ID                  uuid.UUID      `gorm:"primaryKey;column:id"`
	SubjectID           uuid.UUID      `gorm:"column:subject_id;index"`
	VisitScheduleID     *uuid.UUID     `gorm:"column:visit_schedule_id"`
	VisitDate           *time.Time     `gorm:"column:visit_date"`
	Status              string         `gorm:"column:status"`
	ProceduresCompleted datatypes.JSON `gorm:"column:procedures_completed"`
	IPDispensed         *int           `gorm:"column:ip_dispensed"`
	IPReturned          *int           `gorm:"column:ip_returned"`
	IPID                string         `gorm:"column:ip_id"`
	ReturnIPID          string         `gorm:"column:return_ip_id"`
	DispenseDate        *time.Time     `gorm:"column:dispense_date"`
	LastDoseDate        *time.Time     `gorm:"column:last_dose_date"`
	VisitNotNeeded      bool           `gorm:"column:visit_not_needed"`
	IsUnscheduled       bool           `gorm:"column:is_unscheduled"`
	UnscheduledReason   string         `gorm:"column:unscheduled_reason"`
	SubjectSectionID    *uuid.UUID     `gorm:"column:subject_section_id"`
	CreatedAt           time.Time      `gorm:"column:created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at"`
}

func (visitModel) TableName() string { return "subject_visits" }

type sectionAssignmentModel struct {
	ID             uuid.UUID  `gorm:"primaryKey;column:id"`
	SubjectID      uuid.UUID  `gorm:"column:subject_id;index"`
	StudySectionID *uuid.UUID `gorm:"column:study_section_id"`
	SectionCode    string     `gorm:"column:section_code"`
	SectionOrder   int        `gorm:"column:section_order"`
	AnchorDate     *time.Time `gorm:"column:anchor_date"`
	EndedAt        *time.Time `gorm:"column:ended_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
}

func (sectionAssignmentModel) TableName() string { return "section_assignments" }

type complianceRowModel struct {
	ID                   uuid.UUID  `gorm:"primaryKey;column:id"`
	SubjectID            uuid.UUID  `gorm:"column:subject_id;index"`
	VisitID              *uuid.UUID `gorm:"column:visit_id"`
	IPID                 string     `gorm:"column:ip_id"`
	AssessmentDate       *time.Time `gorm:"column:assessment_date"`
	DispensedCount       int        `gorm:"column:dispensed_count"`
	ReturnedCount        int        `gorm:"column:returned_count"`
	ExpectedTaken        int        `gorm:"column:expected_taken"`
	CompliancePercentage *int       `gorm:"column:compliance_percentage"`
	IsCompliant          *bool      `gorm:"column:is_compliant"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
}

func (complianceRowModel) TableName() string { return "drug_compliance_rows" }

type auditLogModel struct {
	ID        int64          `gorm:"primaryKey;column:id"`
	StudyID   uuid.UUID      `gorm:"column:study_id;index"`
	SubjectID *uuid.UUID     `gorm:"column:subject_id"`
	Actor     string         `gorm:"column:actor"`
	Role      string         `gorm:"column:role"`
	Action    string         `gorm:"column:action"`
	Entity    string         `gorm:"column:entity"`
	EntityID  string         `gorm:"column:entity_id"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string { return "trial_audit_logs" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&studyModel{},
		&visitTemplateModel{},
		&subjectModel{},
		&visitModel{},
		&sectionAssignmentModel{},
		&complianceRowModel{},
		&auditLogModel{},
	)
}

func (r *Repository) CreateStudy(ctx context.Context, study models.Study) (models.Study, error) {
	now := time.Now().UTC()
	row := &studyModel{
		ID:               uuid.New(),
		Code:             study.Code,
		Name:             study.Name,
		Phase:            study.Phase,
		Sponsor:          study.Sponsor,
		Status:           "draft",
		DosingFrequency:  study.DosingFrequency,
		AnchorConvention: study.AnchorConvention,
		StartDate:        study.StartDate,
		EndDate:          study.EndDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Study{}, err
	}
	return r.buildStudy(ctx, row)
}

func (r *Repository) UpdateStudyStatus(ctx context.Context, studyID uuid.UUID, status string) error {
	return r.db.WithContext(ctx).Model(&studyModel{}).Where("id = ?", studyID).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}).Error
}

func (r *Repository) ListStudies(ctx context.Context, limit int) ([]models.Study, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []studyModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	studies := make([]models.Study, 0, len(rows))
	for i := range rows {
		study, err := r.buildStudy(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		studies = append(studies, study)
	}
	return studies, nil
}

func (r *Repository) GetStudy(ctx context.Context, studyID uuid.UUID) (models.Study, error) {
	var row studyModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", studyID).Error; err != nil {
		return models.Study{}, err
	}
	return r.buildStudy(ctx, &row)
}

func (r *Repository) buildStudy(ctx context.Context, row *studyModel) (models.Study, error) {
	study := models.Study{
		ID:               row.ID,
		Code:             row.Code,
		Name:             row.Name,
		Phase:            row.Phase,
		Sponsor:          row.Sponsor,
		Status:           row.Status,
		DosingFrequency:  row.DosingFrequency,
		AnchorConvention: row.AnchorConvention,
		StartDate:        row.StartDate,
		EndDate:          row.EndDate,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}

	templates, err := r.ListVisitTemplates(ctx, row.ID)
	if err != nil {
		return models.Study{}, err
	}
	study.VisitTemplates = templates

	var counts struct {
		Active int
		Total  int
	}
	query := `SELECT COALESCE(SUM(CASE WHEN status IN ('enrolled','active','randomized') THEN 1 ELSE 0 END), 0) AS active, COUNT(*) AS total FROM subjects WHERE study_id = ?`
	r.db.WithContext(ctx).Raw(query, row.ID).Scan(&counts)
	study.ActiveSubjects = counts.Active
	study.TotalSubjects = counts.Total

	return study, nil
}

func (r *Repository) CreateVisitTemplate(ctx context.Context, tpl models.VisitTemplate) (models.VisitTemplate, error) {
	now := time.Now().UTC()
	row := &visitTemplateModel{
		ID:               uuid.New(),
		StudyID:          tpl.StudyID,
		VisitName:        tpl.VisitName,
		VisitNumber:      tpl.VisitNumber,
		VisitDay:         tpl.VisitDay,
		WindowBeforeDays: tpl.WindowBeforeDays,
		WindowAfterDays:  tpl.WindowAfterDays,
		SectionID:        tpl.SectionID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if tpl.Procedures != nil {
		if data, err := json.Marshal(tpl.Procedures); err == nil {
			row.Procedures = datatypes.JSON(data)
		}
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.VisitTemplate{}, err
	}
	return templateFromRow(row), nil
}

func (r *Repository) ListVisitTemplates(ctx context.Context, studyID uuid.UUID) ([]models.VisitTemplate, error) {
	var rows []visitTemplateModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("visit_day, visit_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	templates := make([]models.VisitTemplate, 0, len(rows))
	for i := range rows {
		templates = append(templates, templateFromRow(&rows[i]))
	}
	return templates, nil
}

func templateFromRow(row *visitTemplateModel) models.VisitTemplate {
	return models.VisitTemplate{
		ID:               row.ID,
		StudyID:          row.StudyID,
		VisitName:        row.VisitName,
		VisitNumber:      row.VisitNumber,
		VisitDay:         row.VisitDay,
		WindowBeforeDays: row.WindowBeforeDays,
		WindowAfterDays:  row.WindowAfterDays,
		Procedures:       jsonStringArray(row.Procedures),
		SectionID:        row.SectionID,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

func (r *Repository) EnrollSubject(ctx context.Context, subject models.Subject) (models.Subject, error) {
	row := &subjectModel{
		ID:                uuid.New(),
		StudyID:           subject.StudyID,
		SubjectCode:       subject.SubjectCode,
		Status:            "screening",
		EnrollmentDate:    subject.EnrollmentDate,
		RandomizationDate: subject.RandomizationDate,
		CreatedAt:         time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Subject{}, err
	}
	return subjectFromRow(row), nil
}

func (r *Repository) GetSubject(ctx context.Context, subjectID uuid.UUID) (models.Subject, error) {
	var row subjectModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", subjectID).Error; err != nil {
		return models.Subject{}, err
	}
	return subjectFromRow(&row), nil
}

func (r *Repository) ListSubjects(ctx context.Context, studyID uuid.UUID, limit int) ([]models.Subject, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []subjectModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	subjects := make([]models.Subject, 0, len(rows))
	for i := range rows {
		subjects = append(subjects, subjectFromRow(&rows[i]))
	}
	return subjects, nil
}

func subjectFromRow(row *subjectModel) models.Subject {
	return models.Subject{
		ID:                row.ID,
		StudyID:           row.StudyID,
		SubjectCode:       row.SubjectCode,
		Status:            row.Status,
		EnrollmentDate:    row.EnrollmentDate,
		RandomizationDate: row.RandomizationDate,
		CreatedAt:         row.CreatedAt,
	}
}

func (r *Repository) SaveVisit(ctx context.Context, visit models.ActualVisit) (models.ActualVisit, error) {
	now := time.Now().UTC()
	row := visitRow(visit)
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if err := r.db.WithContext(ctx).Save(row).Error; err != nil {
		return models.ActualVisit{}, err
	}
	return visitFromRow(row), nil
}

func (r *Repository) GetVisit(ctx context.Context, visitID uuid.UUID) (models.ActualVisit, error) {
	var row visitModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", visitID).Error; err != nil {
		return models.ActualVisit{}, err
	}
	return visitFromRow(&row), nil
}

func (r *Repository) ListVisits(ctx context.Context, subjectID uuid.UUID) ([]models.ActualVisit, error) {
	var rows []visitModel
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("visit_date, created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	visits := make([]models.ActualVisit, 0, len(rows))
	for i := range rows {
		visits = append(visits, visitFromRow(&rows[i]))
	}
	return visits, nil
}

func visitRow(visit models.ActualVisit) *visitModel {
	row := &visitModel{
		ID:                visit.ID,
		SubjectID:         visit.SubjectID,
		VisitScheduleID:   visit.VisitScheduleID,
		VisitDate:         visit.VisitDate,
		Status:            visit.Status,
		IPDispensed:       visit.IPDispensed,
		IPReturned:        visit.IPReturned,
		IPID:              visit.IPID,
		ReturnIPID:        visit.ReturnIPID,
		DispenseDate:      visit.DispenseDate,
		LastDoseDate:      visit.LastDoseDate,
		VisitNotNeeded:    visit.VisitNotNeeded,
		IsUnscheduled:     visit.IsUnscheduled,
		UnscheduledReason: visit.UnscheduledReason,
		SubjectSectionID:  visit.SubjectSectionID,
		CreatedAt:         visit.CreatedAt,
	}
	if visit.ProceduresCompleted != nil {
		if data, err := json.Marshal(visit.ProceduresCompleted); err == nil {
			row.ProceduresCompleted = datatypes.JSON(data)
		}
	}
	return row
}

func visitFromRow(row *visitModel) models.ActualVisit {
	return models.ActualVisit{
		ID:                  row.ID,
		SubjectID:           row.SubjectID,
		VisitScheduleID:     row.VisitScheduleID,
		VisitDate:           row.VisitDate,
		Status:              row.Status,
		ProceduresCompleted: jsonStringArray(row.ProceduresCompleted),
		IPDispensed:         row.IPDispensed,
		IPReturned:          row.IPReturned,
		IPID:                row.IPID,
		ReturnIPID:          row.ReturnIPID,
		DispenseDate:        row.DispenseDate,
		LastDoseDate:        row.LastDoseDate,
		VisitNotNeeded:      row.VisitNotNeeded,
		IsUnscheduled:       row.IsUnscheduled,
		UnscheduledReason:   row.UnscheduledReason,
		SubjectSectionID:    row.SubjectSectionID,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

func (r *Repository) OpenSection(ctx context.Context, assignment models.SectionAssignment) (models.SectionAssignment, error) {
	row := &sectionAssignmentModel{
		ID:             uuid.New(),
		SubjectID:      assignment.SubjectID,
		StudySectionID: assignment.StudySectionID,
		SectionCode:    assignment.SectionCode,
		SectionOrder:   assignment.SectionOrder,
		AnchorDate:     assignment.AnchorDate,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.SectionAssignment{}, err
	}
	return assignmentFromRow(row), nil
}

// CloseSection stamps the end marker. The assignment row persists so already
// computed historical timelines keep their anchor.
func (r *Repository) CloseSection(ctx context.Context, assignmentID uuid.UUID, endedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&sectionAssignmentModel{}).Where("id = ?", assignmentID).
		Update("ended_at", endedAt.UTC()).Error
}

func (r *Repository) ListSections(ctx context.Context, subjectID uuid.UUID) ([]models.SectionAssignment, error) {
	var rows []sectionAssignmentModel
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("section_order, created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	assignments := make([]models.SectionAssignment, 0, len(rows))
	for i := range rows {
		assignments = append(assignments, assignmentFromRow(&rows[i]))
	}
	return assignments, nil
}

func assignmentFromRow(row *sectionAssignmentModel) models.SectionAssignment {
	return models.SectionAssignment{
		ID:             row.ID,
		SubjectID:      row.SubjectID,
		StudySectionID: row.StudySectionID,
		SectionCode:    row.SectionCode,
		SectionOrder:   row.SectionOrder,
		AnchorDate:     row.AnchorDate,
		EndedAt:        row.EndedAt,
		CreatedAt:      row.CreatedAt,
	}
}

func (r *Repository) RecordComplianceRow(ctx context.Context, row models.DrugComplianceRow) (models.DrugComplianceRow, error) {
	entry := &complianceRowModel{
		ID:                   uuid.New(),
		SubjectID:            row.SubjectID,
		VisitID:              row.VisitID,
		IPID:                 row.IPID,
		AssessmentDate:       row.AssessmentDate,
		DispensedCount:       row.DispensedCount,
		ReturnedCount:        row.ReturnedCount,
		ExpectedTaken:        row.ExpectedTaken,
		CompliancePercentage: row.CompliancePercentage,
		IsCompliant:          row.IsCompliant,
		CreatedAt:            time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return models.DrugComplianceRow{}, err
	}
	row.ID = entry.ID
	row.CreatedAt = entry.CreatedAt
	return row, nil
}

func (r *Repository) ListComplianceRows(ctx context.Context, subjectID uuid.UUID) ([]models.DrugComplianceRow, error) {
	var rows []complianceRowModel
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]models.DrugComplianceRow, 0, len(rows))
	for _, row := range rows {
		result = append(result, models.DrugComplianceRow{
			ID:                   row.ID,
			SubjectID:            row.SubjectID,
			VisitID:              row.VisitID,
			IPID:                 row.IPID,
			AssessmentDate:       row.AssessmentDate,
			DispensedCount:       row.DispensedCount,
			ReturnedCount:        row.ReturnedCount,
			ExpectedTaken:        row.ExpectedTaken,
			CompliancePercentage: row.CompliancePercentage,
			IsCompliant:          row.IsCompliant,
			CreatedAt:            row.CreatedAt,
		})
	}
	return result, nil
}

func (r *Repository) AppendAuditLog(ctx context.Context, log models.AuditLog) error {
	payload, _ := json.Marshal(log.Payload)
	entry := &auditLogModel{
		StudyID:   log.StudyID,
		SubjectID: log.SubjectID,
		Actor:     log.Actor,
		Role:      log.Role,
		Action:    log.Action,
		Entity:    log.Entity,
		EntityID:  log.EntityID,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) ListAuditLogs(ctx context.Context, studyID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []auditLogModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]models.AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, models.AuditLog{
			ID:        row.ID,
			StudyID:   row.StudyID,
			SubjectID: row.SubjectID,
			Actor:     row.Actor,
			Role:      row.Role,
			Action:    row.Action,
			Entity:    row.Entity,
			EntityID:  row.EntityID,
			Payload:   jsonMap(row.Payload),
			CreatedAt: row.CreatedAt,
		})
	}
	return logs, nil
}

func jsonMap(data datatypes.JSON) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}

func jsonStringArray(data datatypes.JSON) []string {
	if len(data) == 0 {
		return nil
	}
	var result []string
	_ = json.Unmarshal(data, &result)
	return result
}
