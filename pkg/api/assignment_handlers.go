package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/httputil"
)

// AssignmentHandlers serves subscription assignment administration.
type AssignmentHandlers struct {
	service BillingService
}

// NewAssignmentHandlers creates assignment handlers over the engine.
func NewAssignmentHandlers(service BillingService) *AssignmentHandlers {
	return &AssignmentHandlers{service: service}
}

// RegisterRoutes registers assignment routes.
func (h *AssignmentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/assignments", h.createAssignment).Methods("POST")
	router.HandleFunc("/assignments/{id}", h.getAssignment).Methods("GET")
	router.HandleFunc("/assignments/{id}/deactivate", h.deactivateAssignment).Methods("POST")
	router.HandleFunc("/users/{id}/assignments", h.listUserAssignments).Methods("GET")
}

func (h *AssignmentHandlers) createAssignment(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateAssignmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	assignment, err := h.service.CreateAssignment(r.Context(), req)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteCreated(w, assignment)
}

func (h *AssignmentHandlers) getAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	assignment, err := h.service.GetAssignment(r.Context(), id)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, assignment)
}

func (h *AssignmentHandlers) deactivateAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	assignment, err := h.service.DeactivateAssignment(r.Context(), id)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, assignment)
}

func (h *AssignmentHandlers) listUserAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	activeOnly, err := httputil.ParseQueryBool(r, "active", false)
	if err != nil {
		httputil.WriteValidationError(w, "invalid active flag")
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteValidationError(w, "invalid limit")
		return
	}

	assignments, err := h.service.ListAssignments(r.Context(), billing.AssignmentFilter{
		UserID:     userID,
		ActiveOnly: activeOnly,
		Limit:      limit,
	})
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, assignments)
}
