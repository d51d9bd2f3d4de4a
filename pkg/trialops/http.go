package trialops

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/trialdesk/platform/pkg/common/logger"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/schedule"
	"gorm.io/gorm"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1/trialops").Subrouter()

	api.HandleFunc("/studies", h.createStudy).Methods(http.MethodPost)
	api.HandleFunc("/studies", h.listStudies).Methods(http.MethodGet)
	api.HandleFunc("/studies/{id}", h.getStudy).Methods(http.MethodGet)
	api.HandleFunc("/studies/{id}/status", h.updateStudyStatus).Methods(http.MethodPatch)
	api.HandleFunc("/studies/{id}/templates", h.createVisitTemplate).Methods(http.MethodPost)
	api.HandleFunc("/studies/{id}/templates", h.listVisitTemplates).Methods(http.MethodGet)
	api.HandleFunc("/studies/{id}/subjects", h.enrollSubject).Methods(http.MethodPost)
	api.HandleFunc("/studies/{id}/subjects", h.listSubjects).Methods(http.MethodGet)
	api.HandleFunc("/studies/{id}/audit-logs", h.listAuditLogs).Methods(http.MethodGet)

	api.HandleFunc("/subjects/{id}", h.getSubject).Methods(http.MethodGet)
	api.HandleFunc("/subjects/{id}/visits", h.recordVisit).Methods(http.MethodPost)
	api.HandleFunc("/subjects/{id}/visits", h.listVisits).Methods(http.MethodGet)
	api.HandleFunc("/subjects/{id}/sections", h.openSection).Methods(http.MethodPost)
	api.HandleFunc("/subjects/{id}/sections", h.listSections).Methods(http.MethodGet)
	api.HandleFunc("/subjects/{id}/sections/{sectionId}/close", h.closeSection).Methods(http.MethodPost)
	api.HandleFunc("/subjects/{id}/compliance-rows", h.recordComplianceRow).Methods(http.MethodPost)
	api.HandleFunc("/subjects/{id}/compliance", h.subjectCompliance).Methods(http.MethodGet)
	api.HandleFunc("/subjects/{id}/timeline", h.subjectTimeline).Methods(http.MethodGet)

	api.HandleFunc("/visits/{id}", h.updateVisit).Methods(http.MethodPut)
}

func (h *Handler) createStudy(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStudyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	study, err := h.service.CreateStudy(r.Context(), req, resolveActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, study)
}

func (h *Handler) listStudies(w http.ResponseWriter, r *http.Request) {
	studies, err := h.service.ListStudies(r.Context(), parseLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, studies)
}

func (h *Handler) getStudy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	study, err := h.service.GetStudy(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, study)
}

func (h *Handler) updateStudyStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateStudyStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if err := h.service.UpdateStudyStatus(r.Context(), id, req.Status, resolveActor(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (h *Handler) createVisitTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.CreateVisitTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tpl, err := h.service.CreateVisitTemplate(r.Context(), id, req, resolveActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *Handler) listVisitTemplates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	templates, err := h.service.ListVisitTemplates(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (h *Handler) enrollSubject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.EnrollSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	subject, err := h.service.EnrollSubject(r.Context(), id, req, resolveActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subject)
}

func (h *Handler) listSubjects(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	subjects, err := h.service.ListSubjects(r.Context(), id, parseLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (h *Handler) getSubject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	subject, err := h.service.GetSubject(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

func (h *Handler) recordVisit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.RecordVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	visit, err := h.service.RecordVisit(r.Context(), id, req, resolveActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

func (h *Handler) updateVisit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.RecordVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	visit, err := h.service.UpdateVisit(r.Context(), id, req, resolveActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) listVisits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	visits, err := h.service.ListVisits(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visits)
}

func (h *Handler) openSection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.OpenSectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	assignment, err := h.service.OpenSection(r.Context(), id, req, resolveActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (h *Handler) listSections(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	sections, err := h.service.ListSections(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

func (h *Handler) closeSection(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	sectionID, err := uuid.Parse(mux.Vars(r)["sectionId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "sectionId must be a UUID")
		return
	}
	if err := h.service.CloseSection(r.Context(), subjectID, sectionID, resolveActor(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) recordComplianceRow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.RecordComplianceRowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	row, err := h.service.RecordComplianceRow(r.Context(), id, req, resolveActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (h *Handler) subjectCompliance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	records, err := h.service.SubjectCompliance(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) subjectTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, ok := schedule.ParseDate(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "as_of must be a YYYY-MM-DD date")
			return
		}
		asOf = parsed
	}
	view, err := h.service.SubjectTimeline(r.Context(), id, asOf)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	logs, err := h.service.ListAuditLogs(r.Context(), id, parseLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			return limit
		}
	}
	return 0
}

// resolveActor trusts the gateway-populated identity headers; the service
// itself performs no authentication.
func resolveActor(r *http.Request) string {
	if actor := r.Header.Get("X-User-ID"); actor != "" {
		return actor
	}
	return "anonymous"
}

func writeServiceError(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": vErr.Message, "field": vErr.Field})
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		logger.Log.WithError(err).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("Failed to encode response")
	}
}
