package trialops

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/logger"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/compliance"
	"github.com/trialdesk/platform/pkg/observability/metrics"
	"github.com/trialdesk/platform/pkg/schedule"
	"github.com/trialdesk/platform/pkg/timeline"
)

const eventSource = "trialops-service"

// EventPublisher abstracts the Kafka producer so the service stays testable
// without a broker.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	repo      *Repository
	cache     *TimelineCache
	publisher EventPublisher
	catalog   compliance.Catalog
}

func NewService(repo *Repository, cache *TimelineCache, publisher EventPublisher, catalog compliance.Catalog) *Service {
	return &Service{repo: repo, cache: cache, publisher: publisher, catalog: catalog}
}

func (s *Service) CreateStudy(ctx context.Context, req models.CreateStudyRequest, actor string) (models.Study, error) {
	study, err := ParseCreateStudy(req)
	if err != nil {
		return models.Study{}, err
	}
	created, err := s.repo.CreateStudy(ctx, study)
	if err != nil {
		return models.Study{}, err
	}
	s.audit(ctx, models.AuditLog{
		StudyID:  created.ID,
		Actor:    actor,
		Action:   "study_created",
		Entity:   "study",
		EntityID: created.ID.String(),
		Payload:  map[string]interface{}{"code": created.Code},
	})
	return created, nil
}

func (s *Service) GetStudy(ctx context.Context, studyID uuid.UUID) (models.Study, error) {
	return s.repo.GetStudy(ctx, studyID)
}

func (s *Service) ListStudies(ctx context.Context, limit int) ([]models.Study, error) {
	return s.repo.ListStudies(ctx, limit)
}

func (s *Service) UpdateStudyStatus(ctx context.Context, studyID uuid.UUID, status string, actor string) error {
	if err := s.repo.UpdateStudyStatus(ctx, studyID, status); err != nil {
		return err
	}
	s.audit(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "study_status_changed",
		Entity:   "study",
		EntityID: studyID.String(),
		Payload:  map[string]interface{}{"status": status},
	})
	return nil
}

func (s *Service) CreateVisitTemplate(ctx context.Context, studyID uuid.UUID, req models.CreateVisitTemplateRequest, actor string) (models.VisitTemplate, error) {
	tpl, err := ParseCreateVisitTemplate(studyID, req)
	if err != nil {
		return models.VisitTemplate{}, err
	}
	created, err := s.repo.CreateVisitTemplate(ctx, tpl)
	if err != nil {
		return models.VisitTemplate{}, err
	}
	s.audit(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "visit_template_created",
		Entity:   "visit_template",
		EntityID: created.ID.String(),
		Payload:  map[string]interface{}{"visit_name": created.VisitName, "visit_day": created.VisitDay},
	})
	return created, nil
}

func (s *Service) ListVisitTemplates(ctx context.Context, studyID uuid.UUID) ([]models.VisitTemplate, error) {
	return s.repo.ListVisitTemplates(ctx, studyID)
}

func (s *Service) EnrollSubject(ctx context.Context, studyID uuid.UUID, req models.EnrollSubjectRequest, actor string) (models.Subject, error) {
	subject, err := ParseEnrollSubject(studyID, req)
	if err != nil {
		return models.Subject{}, err
	}
	created, err := s.repo.EnrollSubject(ctx, subject)
	if err != nil {
		return models.Subject{}, err
	}
	s.audit(ctx, models.AuditLog{
		StudyID:   studyID,
		SubjectID: &created.ID,
		Actor:     actor,
		Action:    "subject_enrolled",
		Entity:    "subject",
		EntityID:  created.ID.String(),
		Payload:   map[string]interface{}{"subject_code": created.SubjectCode},
	})
	return created, nil
}

func (s *Service) GetSubject(ctx context.Context, subjectID uuid.UUID) (models.Subject, error) {
	return s.repo.GetSubject(ctx, subjectID)
}

func (s *Service) ListSubjects(ctx context.Context, studyID uuid.UUID, limit int) ([]models.Subject, error) {
	return s.repo.ListSubjects(ctx, studyID, limit)
}

func (s *Service) RecordVisit(ctx context.Context, subjectID uuid.UUID, req models.RecordVisitRequest, actor string) (models.ActualVisit, error) {
	visit, err := ParseRecordVisit(subjectID, req)
	if err != nil {
		return models.ActualVisit{}, err
	}
	subject, err := s.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return models.ActualVisit{}, err
	}
	saved, err := s.repo.SaveVisit(ctx, visit)
	if err != nil {
		return models.ActualVisit{}, err
	}

	s.audit(ctx, models.AuditLog{
		StudyID:   subject.StudyID,
		SubjectID: &subjectID,
		Actor:     actor,
		Action:    "visit_recorded",
		Entity:    "visit",
		EntityID:  saved.ID.String(),
		Payload:   map[string]interface{}{"status": saved.Status},
	})
	s.afterVisitChange(ctx, subjectID, saved.ID, "visit_recorded")
	return saved, nil
}

func (s *Service) UpdateVisit(ctx context.Context, visitID uuid.UUID, req models.RecordVisitRequest, actor string) (models.ActualVisit, error) {
	existing, err := s.repo.GetVisit(ctx, visitID)
	if err != nil {
		return models.ActualVisit{}, err
	}
	visit, err := ParseRecordVisit(existing.SubjectID, req)
	if err != nil {
		return models.ActualVisit{}, err
	}
	visit.ID = existing.ID
	visit.CreatedAt = existing.CreatedAt

	subject, err := s.repo.GetSubject(ctx, existing.SubjectID)
	if err != nil {
		return models.ActualVisit{}, err
	}
	saved, err := s.repo.SaveVisit(ctx, visit)
	if err != nil {
		return models.ActualVisit{}, err
	}

	s.audit(ctx, models.AuditLog{
		StudyID:   subject.StudyID,
		SubjectID: &existing.SubjectID,
		Actor:     actor,
		Action:    "visit_updated",
		Entity:    "visit",
		EntityID:  saved.ID.String(),
		Payload:   map[string]interface{}{"status": saved.Status},
	})
	s.afterVisitChange(ctx, existing.SubjectID, saved.ID, "visit_updated")
	return saved, nil
}

func (s *Service) ListVisits(ctx context.Context, subjectID uuid.UUID) ([]models.ActualVisit, error) {
	return s.repo.ListVisits(ctx, subjectID)
}

func (s *Service) OpenSection(ctx context.Context, subjectID uuid.UUID, req models.OpenSectionRequest, actor string) (models.SectionAssignment, error) {
	assignment, err := ParseOpenSection(subjectID, req)
	if err != nil {
		return models.SectionAssignment{}, err
	}
	subject, err := s.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return models.SectionAssignment{}, err
	}
	created, err := s.repo.OpenSection(ctx, assignment)
	if err != nil {
		return models.SectionAssignment{}, err
	}

	s.audit(ctx, models.AuditLog{
		StudyID:   subject.StudyID,
		SubjectID: &subjectID,
		Actor:     actor,
		Action:    "section_opened",
		Entity:    "section_assignment",
		EntityID:  created.ID.String(),
		Payload:   map[string]interface{}{"section_code": created.SectionCode},
	})
	s.afterVisitChange(ctx, subjectID, created.ID, "section_opened")
	return created, nil
}

func (s *Service) CloseSection(ctx context.Context, subjectID uuid.UUID, assignmentID uuid.UUID, actor string) error {
	subject, err := s.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	if err := s.repo.CloseSection(ctx, assignmentID, time.Now().UTC()); err != nil {
		return err
	}
	s.audit(ctx, models.AuditLog{
		StudyID:   subject.StudyID,
		SubjectID: &subjectID,
		Actor:     actor,
		Action:    "section_closed",
		Entity:    "section_assignment",
		EntityID:  assignmentID.String(),
	})
	s.afterVisitChange(ctx, subjectID, assignmentID, "section_closed")
	return nil
}

func (s *Service) ListSections(ctx context.Context, subjectID uuid.UUID) ([]models.SectionAssignment, error) {
	return s.repo.ListSections(ctx, subjectID)
}

func (s *Service) RecordComplianceRow(ctx context.Context, subjectID uuid.UUID, req models.RecordComplianceRowRequest, actor string) (models.DrugComplianceRow, error) {
	row, err := ParseComplianceRow(subjectID, req)
	if err != nil {
		return models.DrugComplianceRow{}, err
	}
	subject, err := s.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return models.DrugComplianceRow{}, err
	}
	created, err := s.repo.RecordComplianceRow(ctx, row)
	if err != nil {
		return models.DrugComplianceRow{}, err
	}

	s.audit(ctx, models.AuditLog{
		StudyID:   subject.StudyID,
		SubjectID: &subjectID,
		Actor:     actor,
		Action:    "compliance_recorded",
		Entity:    "compliance_row",
		EntityID:  created.ID.String(),
		Payload:   map[string]interface{}{"ip_id": created.IPID},
	})
	s.afterVisitChange(ctx, subjectID, created.ID, "compliance_recorded")
	return created, nil
}

// SubjectTimeline renders the reconciled timeline as of the given date,
// serving from cache when a fresh copy exists.
func (s *Service) SubjectTimeline(ctx context.Context, subjectID uuid.UUID, asOf time.Time) (models.TimelineView, error) {
	asOf = schedule.DateOnly(asOf)
	if view, ok := s.cache.Get(ctx, subjectID, asOf); ok {
		metrics.ObserveTimeline(len(view.Entries), view.MissingAnchor, true)
		return view, nil
	}

	view, err := s.computeTimeline(ctx, subjectID, asOf)
	if err != nil {
		return models.TimelineView{}, err
	}
	s.cache.Set(ctx, view)
	metrics.ObserveTimeline(len(view.Entries), view.MissingAnchor, false)
	return view, nil
}

// SubjectCompliance returns just the derived per-cycle records, bypassing the
// timeline overlay.
func (s *Service) SubjectCompliance(ctx context.Context, subjectID uuid.UUID) ([]models.ComplianceRecord, error) {
	subject, err := s.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	study, err := s.repo.GetStudy(ctx, subject.StudyID)
	if err != nil {
		return nil, err
	}
	visits, err := s.repo.ListVisits(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	dispenses, returns := compliance.EventsFromVisits(visits)
	freq := s.resolveFrequency(study)
	records := compliance.Compute(dispenses, returns, freq)
	s.reportDegraded(subjectID, records)
	return records, nil
}

// RecomputeTimeline refreshes the cached view for today. The worker calls this
// on every visit-change event so dashboard reads stay warm.
func (s *Service) RecomputeTimeline(ctx context.Context, subjectID uuid.UUID) error {
	s.cache.Invalidate(ctx, subjectID)
	asOf := schedule.DateOnly(time.Now().UTC())
	view, err := s.computeTimeline(ctx, subjectID, asOf)
	if err != nil {
		return err
	}
	s.cache.Set(ctx, view)
	metrics.ObserveTimeline(len(view.Entries), view.MissingAnchor, false)
	return nil
}

func (s *Service) computeTimeline(ctx context.Context, subjectID uuid.UUID, asOf time.Time) (models.TimelineView, error) {
	subject, err := s.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return models.TimelineView{}, err
	}
	study, err := s.repo.GetStudy(ctx, subject.StudyID)
	if err != nil {
		return models.TimelineView{}, err
	}
	visits, err := s.repo.ListVisits(ctx, subjectID)
	if err != nil {
		return models.TimelineView{}, err
	}
	assignments, err := s.repo.ListSections(ctx, subjectID)
	if err != nil {
		return models.TimelineView{}, err
	}
	rows, err := s.repo.ListComplianceRows(ctx, subjectID)
	if err != nil {
		return models.TimelineView{}, err
	}

	conv := schedule.ParseConvention(study.AnchorConvention)
	entries, missingAnchor := timeline.Build(subject, assignments, study.VisitTemplates, visits, conv, asOf)

	dispenses, returns := compliance.EventsFromVisits(visits)
	freq := s.resolveFrequency(study)
	records := compliance.Compute(dispenses, returns, freq)
	s.reportDegraded(subjectID, records)

	compliance.AttachStoredRows(entries, rows, dispenses)
	compliance.AttachRecords(entries, records)

	if missingAnchor {
		logger.Log.WithFields(map[string]interface{}{
			"subject_id": subjectID,
			"study_id":   study.ID,
		}).Warn("Timeline computed without an anchor date")
	}

	return models.TimelineView{
		SubjectID:     subjectID,
		AsOf:          asOf,
		MissingAnchor: missingAnchor,
		Entries:       entries,
		Compliance:    records,
	}, nil
}

func (s *Service) resolveFrequency(study models.Study) compliance.Frequency {
	freq := s.catalog.Resolve(study.DosingFrequency)
	if freq.Degraded {
		logger.Log.WithFields(map[string]interface{}{
			"study_id":         study.ID,
			"dosing_frequency": study.DosingFrequency,
		}).Warn("Unrecognized dosing frequency, using once-daily fallback")
	}
	return freq
}

func (s *Service) reportDegraded(subjectID uuid.UUID, records []models.ComplianceRecord) {
	degraded := 0
	for _, record := range records {
		if record.Degraded {
			degraded++
		}
	}
	if degraded > 0 {
		metrics.ObserveDegradedCompliance(degraded)
		logger.Log.WithFields(map[string]interface{}{
			"subject_id": subjectID,
			"count":      degraded,
		}).Warn("Degraded compliance records computed")
	}
}

func (s *Service) afterVisitChange(ctx context.Context, subjectID uuid.UUID, entityID uuid.UUID, eventType string) {
	s.cache.Invalidate(ctx, subjectID)
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishEvent(ctx, eventType, eventSource, map[string]interface{}{
		"subject_id": subjectID.String(),
		"entity_id":  entityID.String(),
	})
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"subject_id": subjectID,
			"event_type": eventType,
		}).Error("Failed to publish visit change event")
	}
}

func (s *Service) audit(ctx context.Context, log models.AuditLog) {
	if err := s.repo.AppendAuditLog(ctx, log); err != nil {
		logger.Log.WithError(err).WithField("action", log.Action).Error("Failed to write audit log")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, studyID uuid.UUID, limit int) ([]models.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, studyID, limit)
}
