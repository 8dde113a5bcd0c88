package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/httputil"
)

// BillingHandlers serves run triggers and payment record operations.
type BillingHandlers struct {
	service BillingService
}

// NewBillingHandlers creates billing handlers over the engine.
func NewBillingHandlers(service BillingService) *BillingHandlers {
	return &BillingHandlers{service: service}
}

// RegisterRoutes registers billing routes.
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/cycle/run", h.runBillingCycle).Methods("POST")
	router.HandleFunc("/billing/sweep/run", h.runOverdueSweep).Methods("POST")
	router.HandleFunc("/billing/runs", h.listRuns).Methods("GET")

	router.HandleFunc("/payment-records", h.createManualRecord).Methods("POST")
	router.HandleFunc("/payment-records/{id}", h.getRecord).Methods("GET")
	router.HandleFunc("/payment-records/{id}/pay", h.markPaid).Methods("POST")
	router.HandleFunc("/payment-records/{id}/cancel", h.cancelRecord).Methods("POST")
	router.HandleFunc("/users/{id}/payment-records", h.listUserRecords).Methods("GET")
}

// parseRunRequest decodes the trigger body. An empty body means "today,
// all organizations".
func parseRunRequest(r *http.Request) (time.Time, *int64, error) {
	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := httputil.ParseJSON(r, &req); err != nil {
			return time.Time{}, nil, err
		}
	}

	asOf := time.Now()
	if req.AsOfDate != "" {
		parsed, err := time.Parse(time.DateOnly, req.AsOfDate)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("invalid as_of_date %q: expected YYYY-MM-DD", req.AsOfDate)
		}
		asOf = parsed
	}

	var orgID *int64
	if req.OrganizationID != 0 {
		orgID = &req.OrganizationID
	}
	return asOf, orgID, nil
}

func (h *BillingHandlers) runBillingCycle(w http.ResponseWriter, r *http.Request) {
	asOf, orgID, err := parseRunRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	report, err := h.service.RunBillingCycle(r.Context(), asOf, orgID)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

func (h *BillingHandlers) runOverdueSweep(w http.ResponseWriter, r *http.Request) {
	asOf, orgID, err := parseRunRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	report, err := h.service.RunOverdueSweep(r.Context(), asOf, orgID)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

func (h *BillingHandlers) listRuns(w http.ResponseWriter, r *http.Request) {
	job := billing.RunJob(httputil.ParseQueryString(r, "job", ""))
	switch job {
	case "", billing.JobBillingCycle, billing.JobOverdueSweep:
	default:
		httputil.WriteValidationError(w, "job must be billing_cycle or overdue_sweep")
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 20)
	if err != nil {
		httputil.WriteValidationError(w, "invalid limit")
		return
	}

	reports, err := h.service.ListRunReports(r.Context(), job, limit)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, reports)
}

func (h *BillingHandlers) createManualRecord(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateManualRecordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	record, err := h.service.CreateManualRecord(r.Context(), req)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteCreated(w, record)
}

func (h *BillingHandlers) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	record, err := h.service.GetPaymentRecord(r.Context(), id)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

func (h *BillingHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req billing.MarkPaidRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	record, err := h.service.MarkPaid(r.Context(), id, req)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

func (h *BillingHandlers) cancelRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	record, err := h.service.CancelPaymentRecord(r.Context(), id)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

func (h *BillingHandlers) listUserRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	status := billing.RecordStatus(httputil.ParseQueryString(r, "status", ""))
	switch status {
	case "", billing.RecordStatusPending, billing.RecordStatusPaid,
		billing.RecordStatusOverdue, billing.RecordStatusCancelled:
	default:
		httputil.WriteValidationError(w, "unrecognized record status")
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteValidationError(w, "invalid limit")
		return
	}

	records, err := h.service.ListPaymentRecords(r.Context(), billing.RecordFilter{
		UserID: userID,
		Status: status,
		Limit:  limit,
	})
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, records)
}
