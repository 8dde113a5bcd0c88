package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type assignmentPayload struct {
	ID              int64  `json:"id"`
	UserID          int64  `json:"user_id"`
	PlanID          string `json:"plan_id"`
	CycleIndex      int64  `json:"cycle_index"`
	NextBillingDate string `json:"next_billing_date"`
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "error")
	return body["error"]
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	payload := assignmentPayload{
		ID:              42,
		UserID:          7,
		PlanID:          "monthly-basic",
		CycleIndex:      3,
		NextBillingDate: "2026-06-01",
	}

	require.NoError(t, WriteSuccess(rec, payload))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got assignmentPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, payload, got)
}

func TestWriteCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteCreated(rec, map[string]interface{}{
		"id":     101,
		"source": "manual",
		"status": "pending",
	}))

	assert.Equal(t, http.StatusCreated, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "manual", got["source"])
}

func TestWriteNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNoContent(rec)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusUnprocessableEntity, errors.New("record due date does not match any assignment cycle"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "record due date does not match any assignment cycle", decodeErr(t, rec))
}

func TestWriteStatusHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "validation",
			write:      func(w http.ResponseWriter) { WriteValidationError(w, "amount_cents must be positive") },
			wantStatus: http.StatusBadRequest,
			wantMsg:    "amount_cents must be positive",
		},
		{
			name:       "not found",
			write:      func(w http.ResponseWriter) { WriteNotFoundError(w, "assignment 42 not found") },
			wantStatus: http.StatusNotFound,
			wantMsg:    "assignment 42 not found",
		},
		{
			name:       "conflict",
			write:      func(w http.ResponseWriter) { WriteConflict(w, "payment record 9 is cancelled") },
			wantStatus: http.StatusConflict,
			wantMsg:    "payment record 9 is cancelled",
		},
		{
			name:       "service unavailable",
			write:      func(w http.ResponseWriter) { WriteServiceUnavailable(w, "store unavailable, retry the run") },
			wantStatus: http.StatusServiceUnavailable,
			wantMsg:    "store unavailable, retry the run",
		},
		{
			name:       "internal",
			write:      func(w http.ResponseWriter) { WriteInternalError(w, errors.New("unexpected engine failure")) },
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "unexpected engine failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeErr(t, rec))
		})
	}
}
