package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetrack/duetrack/pkg/billing"
)

func TestCreateAssignment(t *testing.T) {
	anchor := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	mock := &mockBilling{
		createAssignment: func(ctx context.Context, req billing.CreateAssignmentRequest) (*billing.SubscriptionAssignment, error) {
			assert.EqualValues(t, 4, req.UserID)
			assert.Equal(t, "plan-monthly", req.PlanID)
			return &billing.SubscriptionAssignment{
				ID: 1, UserID: req.UserID, PlanID: req.PlanID,
				Active: true, PaymentStatus: billing.PaymentStatusActive,
				AnchorDate: req.AnchorDate,
			}, nil
		},
	}

	rec := doRequest(t, mock, "POST", "/api/v1/assignments", billing.CreateAssignmentRequest{
		UserID: 4, PlanID: "plan-monthly", AnchorDate: &anchor,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var a billing.SubscriptionAssignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.True(t, a.Active)
	assert.Equal(t, billing.PaymentStatusActive, a.PaymentStatus)
}

func TestCreateAssignmentUnknownUser(t *testing.T) {
	mock := &mockBilling{
		createAssignment: func(ctx context.Context, req billing.CreateAssignmentRequest) (*billing.SubscriptionAssignment, error) {
			return nil, billing.ErrUserNotFound
		},
	}
	rec := doRequest(t, mock, "POST", "/api/v1/assignments", billing.CreateAssignmentRequest{
		UserID: 99, PlanID: "plan-monthly",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeactivateAssignment(t *testing.T) {
	mock := &mockBilling{
		deactivate: func(ctx context.Context, id int64) (*billing.SubscriptionAssignment, error) {
			return &billing.SubscriptionAssignment{ID: id, Active: false}, nil
		},
	}
	rec := doRequest(t, mock, "POST", "/api/v1/assignments/8/deactivate", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":false`)
}

func TestListUserAssignmentsActiveFilter(t *testing.T) {
	var gotFilter billing.AssignmentFilter
	mock := &mockBilling{
		listAssignments: func(ctx context.Context, filter billing.AssignmentFilter) ([]*billing.SubscriptionAssignment, error) {
			gotFilter = filter
			return nil, nil
		},
	}
	req := httptest.NewRequest("GET", "/api/v1/users/6/assignments?active=true", nil)
	rec := httptest.NewRecorder()
	NewServer(mock).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 6, gotFilter.UserID)
	assert.True(t, gotFilter.ActiveOnly)
}
