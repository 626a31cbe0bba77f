package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/review"
	"github.com/stagegate/sgpm/internal/store"
)

// actorHeader identifies the acting user on requests that need one.
const actorHeader = "X-User-ID"

// Server provides the REST API handlers.
type Server struct {
	store store.Store
	svc   *review.Service
}

// NewServer creates a new API server.
func NewServer(s store.Store, svc *review.Service) *Server {
	return &Server{store: s, svc: svc}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.createProject)
	mux.HandleFunc("GET /api/v1/projects/{id}", s.getProject)
	mux.HandleFunc("PUT /api/v1/projects/{id}", s.updateProject)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", s.deleteProject)

	mux.HandleFunc("GET /api/v1/users", s.listUsers)
	mux.HandleFunc("POST /api/v1/users", s.createUser)
	mux.HandleFunc("GET /api/v1/users/{id}", s.getUser)

	mux.HandleFunc("GET /api/v1/criteria", s.listCriteria)

	mux.HandleFunc("GET /api/v1/projects/{id}/stages/{stage}/reviewers", s.listReviewers)
	mux.HandleFunc("POST /api/v1/projects/{id}/stages/{stage}/reviewers", s.assignReviewers)

	mux.HandleFunc("GET /api/v1/projects/{id}/stages/{stage}/session", s.sessionProgress)
	mux.HandleFunc("POST /api/v1/projects/{id}/stages/{stage}/approve", s.approveSession)

	mux.HandleFunc("GET /api/v1/projects/{id}/stages/{stage}/evaluation", s.getEvaluation)
	mux.HandleFunc("PUT /api/v1/projects/{id}/stages/{stage}/evaluation", s.saveEvaluation)
	mux.HandleFunc("POST /api/v1/projects/{id}/stages/{stage}/evaluation/submit", s.submitEvaluation)

	mux.HandleFunc("GET /api/v1/notifications", s.listNotifications)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", s.markNotificationRead)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+actorHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the review error taxonomy onto HTTP statuses.
// Validation failures additionally carry the full checklist.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *review.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "validation failed",
			"validation": verr.Result,
		})
		return
	}

	var incomplete *review.IncompleteReviewsError
	if errors.As(err, &incomplete) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":           err.Error(),
			"missing_reviews": incomplete.Missing,
		})
		return
	}

	switch {
	case errors.Is(err, review.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, review.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrAlreadyAssigned),
		errors.Is(err, review.ErrRoleIneligible),
		errors.Is(err, review.ErrIncompleteReviews),
		errors.Is(err, review.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// actor reads the acting user from the request header.
func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(actorHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, actorHeader+" header is required")
		return "", false
	}
	return id, true
}

// stagePath parses the {stage} path segment.
func stagePath(w http.ResponseWriter, r *http.Request) (int, bool) {
	stage, err := strconv.Atoi(r.PathValue("stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stage")
		return 0, false
	}
	return stage, true
}

// patchString applies a string value from a JSON patch map to the target if the key is present and non-empty.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			*target = str
		}
	}
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	filter := store.ProjectListFilter{
		Status: models.ProjectStatus(r.URL.Query().Get("status")),
		LeadID: r.URL.Query().Get("lead_id"),
	}
	if v := r.URL.Query().Get("stage"); v != "" {
		stage, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid stage filter")
			return
		}
		filter.Stage = &stage
	}

	projects, err := s.store.ListProjects(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if p.Stage < 0 || p.Stage > models.MaxStage {
		writeError(w, http.StatusBadRequest, "invalid stage")
		return
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusActive
	}
	if !p.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err := s.store.CreateProject(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Selectively merge only keys present in the patch with non-empty values.
	// Stage and status are owned by the gate workflow and never patched here.
	patchString(patch, "Name", &existing.Name)
	patchString(patch, "Description", &existing.Description)
	patchString(patch, "LeadID", &existing.LeadID)

	if err := s.store.UpdateProject(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteProject(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Users ---

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	role := models.Role(r.URL.Query().Get("role"))
	if role != "" && !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role filter")
		return
	}
	users, err := s.store.ListUsers(r.Context(), role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if u.Name == "" || u.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if !u.Role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err := s.store.CreateUser(r.Context(), &u); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- Criteria ---

func (s *Server) listCriteria(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Catalog().List())
}

// --- Reviewer Assignment ---

func (s *Server) listReviewers(w http.ResponseWriter, r *http.Request) {
	stage, ok := stagePath(w, r)
	if !ok {
		return
	}
	assignments, err := s.svc.ListAssignments(r.Context(), r.PathValue("id"), stage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if assignments == nil {
		assignments = []*models.ReviewAssignment{}
	}
	writeJSON(w, http.StatusOK, assignments)
}

func (s *Server) assignReviewers(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	stage, ok := stagePath(w, r)
	if !ok {
		return
	}

	var req struct {
		ReviewerIDs  []string   `json:"reviewer_ids"`
		DueDate      *time.Time `json:"due_date,omitempty"`
		Instructions string     `json:"instructions,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	assignments, err := s.svc.AssignReviewers(r.Context(), actorID, r.PathValue("id"), stage, req.ReviewerIDs, review.AssignOptions{
		DueDate:      req.DueDate,
		Instructions: req.Instructions,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignments)
}

// --- Evaluations ---

func (s *Server) getEvaluation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	stage, ok := stagePath(w, r)
	if !ok {
		return
	}

	eval, err := s.svc.OpenEvaluation(r.Context(), actorID, r.PathValue("id"), stage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (s *Server) saveEvaluation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	stage, ok := stagePath(w, r)
	if !ok {
		return
	}

	var req struct {
		Scores   map[string]int   `json:"scores,omitempty"`
		Comments *string          `json:"comments,omitempty"`
		Decision *models.Decision `json:"decision,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	eval, result, err := s.svc.SaveDraft(r.Context(), actorID, r.PathValue("id"), stage, review.DraftUpdate{
		Scores:   req.Scores,
		Comments: req.Comments,
		Decision: req.Decision,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"evaluation": eval,
		"validation": result,
	})
}

func (s *Server) submitEvaluation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	stage, ok := stagePath(w, r)
	if !ok {
		return
	}

	eval, err := s.svc.SubmitEvaluation(r.Context(), actorID, r.PathValue("id"), stage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// --- Review Session ---

func (s *Server) sessionProgress(w http.ResponseWriter, r *http.Request) {
	stage, ok := stagePath(w, r)
	if !ok {
		return
	}
	progress, err := s.svc.SessionProgress(r.Context(), r.PathValue("id"), stage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) approveSession(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	stage, ok := stagePath(w, r)
	if !ok {
		return
	}

	approval, err := s.svc.ApproveSession(r.Context(), actorID, r.PathValue("id"), stage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// --- Notifications ---

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifications, err := s.store.ListNotifications(r.Context(), actorID, unreadOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := s.store.MarkNotificationRead(r.Context(), r.PathValue("id"), actorID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
