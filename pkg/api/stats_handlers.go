package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/duetrack/duetrack/pkg/analytics"
	"github.com/duetrack/duetrack/pkg/httputil"
)

// StatsHandlers serves revenue statistics.
type StatsHandlers struct {
	service StatsService
}

// NewStatsHandlers creates stats handlers over the analytics service.
func NewStatsHandlers(service StatsService) *StatsHandlers {
	return &StatsHandlers{service: service}
}

// RegisterRoutes registers stats routes.
func (h *StatsHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/stats/billing", h.billingStats).Methods("GET")
	router.HandleFunc("/stats/overview", h.overview).Methods("GET")
}

func (h *StatsHandlers) billingStats(w http.ResponseWriter, r *http.Request) {
	// Default window is the trailing 30 days.
	end := time.Now().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -30)

	if raw := httputil.ParseQueryString(r, "start", ""); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httputil.WriteValidationError(w, "invalid start date, expected YYYY-MM-DD")
			return
		}
		start = parsed
	}
	if raw := httputil.ParseQueryString(r, "end", ""); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httputil.WriteValidationError(w, "invalid end date, expected YYYY-MM-DD")
			return
		}
		end = parsed
	}
	orgID, err := httputil.ParseQueryInt64(r, "organization_id", 0)
	if err != nil {
		httputil.WriteValidationError(w, "invalid organization_id")
		return
	}

	resp, err := h.service.QueryBillingStats(r.Context(), analytics.StatsQuery{
		Start:          start,
		End:            end,
		OrganizationID: orgID,
	})
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

func (h *StatsHandlers) overview(w http.ResponseWriter, r *http.Request) {
	orgID, err := httputil.ParseQueryInt64(r, "organization_id", 0)
	if err != nil {
		httputil.WriteValidationError(w, "invalid organization_id")
		return
	}

	overview, err := h.service.GetOverview(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, overview)
}
