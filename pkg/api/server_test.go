package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duetrack/duetrack/pkg/analytics"
	"github.com/duetrack/duetrack/pkg/billing"
)

type staticCatalog struct {
	plans map[string]*billing.Plan
}

func (c *staticCatalog) Lookup(ctx context.Context, planID string) (*billing.Plan, error) {
	p, ok := c.plans[planID]
	if !ok {
		return nil, billing.ErrPlanNotFound
	}
	return p, nil
}

func (c *staticCatalog) List(ctx context.Context) ([]*billing.Plan, error) {
	out := make([]*billing.Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out, nil
}

type mockStats struct {
	queryBillingStats func(ctx context.Context, q analytics.StatsQuery) (*analytics.BillingStatsResponse, error)
	getOverview       func(ctx context.Context, organizationID int64) (*analytics.Overview, error)
}

func (m *mockStats) QueryBillingStats(ctx context.Context, q analytics.StatsQuery) (*analytics.BillingStatsResponse, error) {
	return m.queryBillingStats(ctx, q)
}

func (m *mockStats) GetOverview(ctx context.Context, organizationID int64) (*analytics.Overview, error) {
	return m.getOverview(ctx, organizationID)
}

func TestPlanRoutes(t *testing.T) {
	server := NewServer(&mockBilling{}, WithPlanCatalog(&staticCatalog{
		plans: map[string]*billing.Plan{
			"plan-monthly": {ID: "plan-monthly", Name: "Monthly", AmountCents: 9900, CycleType: billing.CycleMonthly, Active: true},
		},
	}))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/plans/plan-monthly", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount_cents":9900`)

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/plans/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanRoutesAbsentWithoutCatalog(t *testing.T) {
	server := NewServer(&mockBilling{})
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/plans", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsRouteParsesWindow(t *testing.T) {
	var gotQuery analytics.StatsQuery
	server := NewServer(&mockBilling{}, WithStats(&mockStats{
		queryBillingStats: func(ctx context.Context, q analytics.StatsQuery) (*analytics.BillingStatsResponse, error) {
			gotQuery = q
			return &analytics.BillingStatsResponse{Rows: []*analytics.BillingStatsRow{}}, nil
		},
	}))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/stats/billing?start=2026-02-01&end=2026-02-28&organization_id=4", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-02-01", gotQuery.Start.Format("2006-01-02"))
	assert.Equal(t, "2026-02-28", gotQuery.End.Format("2006-01-02"))
	assert.EqualValues(t, 4, gotQuery.OrganizationID)
}

func TestStatsRouteRejectsBadDate(t *testing.T) {
	server := NewServer(&mockBilling{}, WithStats(&mockStats{}))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats/billing?start=Feb-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	server := NewServer(&mockBilling{
		listRunReports: func(ctx context.Context, job billing.RunJob, limit int) ([]*billing.RunReport, error) {
			return nil, nil
		},
	})
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/billing/runs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
