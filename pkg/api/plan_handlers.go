package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/duetrack/duetrack/pkg/httputil"
	"github.com/duetrack/duetrack/pkg/plans"
)

// PlanHandlers serves read-only plan catalog routes.
type PlanHandlers struct {
	catalog plans.Catalog
}

// NewPlanHandlers creates plan handlers over a catalog.
func NewPlanHandlers(catalog plans.Catalog) *PlanHandlers {
	return &PlanHandlers{catalog: catalog}
}

// RegisterRoutes registers plan routes.
func (h *PlanHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.listPlans).Methods("GET")
	router.HandleFunc("/plans/{id}", h.getPlan).Methods("GET")
}

func (h *PlanHandlers) listPlans(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.List(r.Context())
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

func (h *PlanHandlers) getPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.catalog.Lookup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}
