package audit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	searchFunc   func(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
	getFunc      func(ctx context.Context, id int64) (*AuditEvent, error)
	getStatsFunc func(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error)
	exportFunc   func(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)
	cleanupFunc  func(ctx context.Context, policy RetentionPolicy) (int64, error)
}

func (m *mockStore) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, filter)
	}
	return nil, nil
}

func (m *mockStore) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockStore) GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error) {
	if m.getStatsFunc != nil {
		return m.getStatsFunc(ctx, startTime, endTime)
	}
	return &AuditStats{}, nil
}

func (m *mockStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	if m.exportFunc != nil {
		return m.exportFunc(ctx, filter, format)
	}
	return nil, nil
}

func (m *mockStore) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if m.cleanupFunc != nil {
		return m.cleanupFunc(ctx, policy)
	}
	return 0, nil
}

func newHandlersRouter(store Store) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(store).RegisterRoutes(router)
	return router
}

func TestHandlers_ListEvents(t *testing.T) {
	store := &mockStore{
		searchFunc: func(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
			assert.Equal(t, 100, filter.Limit) // default limit
			return []*AuditEvent{
				{ID: 1, EventType: EventRecordPaid, Status: EventStatusSuccess},
				{ID: 2, EventType: EventRecordOverdue, Status: EventStatusSuccess},
			}, nil
		},
	}

	router := newHandlersRouter(store)

	req := httptest.NewRequest("GET", "/audit/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp["count"])
	assert.Len(t, resp["events"], 2)
}

func TestHandlers_GetEvent(t *testing.T) {
	store := &mockStore{
		getFunc: func(ctx context.Context, id int64) (*AuditEvent, error) {
			assert.Equal(t, int64(42), id)
			return &AuditEvent{ID: 42, EventType: EventRecordCreated}, nil
		},
	}

	router := newHandlersRouter(store)

	req := httptest.NewRequest("GET", "/audit/events/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)

	var event AuditEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, int64(42), event.ID)
	assert.Equal(t, EventRecordCreated, event.EventType)
}

func TestHandlers_GetEvent_NotFound(t *testing.T) {
	store := &mockStore{
		getFunc: func(ctx context.Context, id int64) (*AuditEvent, error) {
			return nil, nil
		},
	}

	router := newHandlersRouter(store)

	req := httptest.NewRequest("GET", "/audit/events/999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHandlers_GetEvent_InvalidID(t *testing.T) {
	router := newHandlersRouter(&mockStore{})

	req := httptest.NewRequest("GET", "/audit/events/not-a-number", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestHandlers_ExportEvents_JSON(t *testing.T) {
	store := &mockStore{
		exportFunc: func(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
			assert.Equal(t, ExportFormatJSON, format)
			return []byte(`[]`), nil
		},
	}

	router := newHandlersRouter(store)

	req := httptest.NewRequest("GET", "/audit/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-logs.json")
}

func TestHandlers_ExportEvents_CSV(t *testing.T) {
	store := &mockStore{
		exportFunc: func(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
			assert.Equal(t, ExportFormatCSV, format)
			return []byte("ID,Timestamp\n"), nil
		},
	}

	router := newHandlersRouter(store)

	req := httptest.NewRequest("GET", "/audit/export?format=csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-logs.csv")
}

func TestHandlers_ExportEvents_NDJSON(t *testing.T) {
	store := &mockStore{
		exportFunc: func(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
			assert.Equal(t, ExportFormatNDJSON, format)
			return nil, nil
		},
	}

	router := newHandlersRouter(store)

	req := httptest.NewRequest("GET", "/audit/export?format=ndjson", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
}

func TestHandlers_GetStats(t *testing.T) {
	store := &mockStore{
		getStatsFunc: func(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error) {
			require.NotNil(t, startTime)
			require.NotNil(t, endTime)
			return &AuditStats{
				TotalEvents: 100,
				EventsByType: map[EventType]int64{
					EventRecordCreated: 60,
				},
				FailedEvents: 5,
			}, nil
		},
	}

	router := newHandlersRouter(store)

	req := httptest.NewRequest("GET", "/audit/stats?start_time=2026-03-01T00:00:00Z&end_time=2026-03-31T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)

	var stats AuditStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(100), stats.TotalEvents)
	assert.Equal(t, int64(5), stats.FailedEvents)
}

func TestParseFilter(t *testing.T) {
	h := NewHandlers(&mockStore{})

	req := httptest.NewRequest("GET", "/audit/events?user_id=123&organization_id=456&status=failure&resource_type=payment_record&resource_id=42&limit=50&offset=10&sort_by=id&sort_order=asc", nil)
	filter := h.parseFilter(req)

	require.NotNil(t, filter.UserID)
	assert.Equal(t, int64(123), *filter.UserID)
	require.NotNil(t, filter.OrganizationID)
	assert.Equal(t, int64(456), *filter.OrganizationID)
	require.NotNil(t, filter.Status)
	assert.Equal(t, EventStatusFailure, *filter.Status)
	assert.Equal(t, ResourceTypeRecord, filter.ResourceType)
	assert.Equal(t, "42", filter.ResourceID)
	assert.Equal(t, 50, filter.Limit)
	assert.Equal(t, 10, filter.Offset)
	assert.Equal(t, "id", filter.SortBy)
	assert.Equal(t, "asc", filter.SortOrder)
}

func TestParseFilter_Defaults(t *testing.T) {
	h := NewHandlers(&mockStore{})

	req := httptest.NewRequest("GET", "/audit/events", nil)
	filter := h.parseFilter(req)

	assert.Equal(t, 100, filter.Limit)
	assert.Equal(t, 0, filter.Offset)
	assert.Equal(t, "desc", filter.SortOrder)
	assert.Nil(t, filter.UserID)
}

func TestParseFilter_TimeRange(t *testing.T) {
	h := NewHandlers(&mockStore{})

	req := httptest.NewRequest("GET", "/audit/events?start_time=2026-03-01T00:00:00Z&end_time=2026-03-31T23:59:59Z", nil)
	filter := h.parseFilter(req)

	require.NotNil(t, filter.StartTime)
	require.NotNil(t, filter.EndTime)
	assert.Equal(t, 2026, filter.StartTime.Year())
	assert.Equal(t, time.March, filter.StartTime.Month())
}

func TestParseFilter_EventTypes(t *testing.T) {
	h := NewHandlers(&mockStore{})

	req := httptest.NewRequest("GET", "/audit/events?event_types=record.paid,record.overdue", nil)
	filter := h.parseFilter(req)

	require.Len(t, filter.EventTypes, 2)
	assert.Equal(t, EventRecordPaid, filter.EventTypes[0])
	assert.Equal(t, EventRecordOverdue, filter.EventTypes[1])
}

func TestParseCommaSeparated(t *testing.T) {
	assert.Nil(t, parseCommaSeparated(""))
	assert.Equal(t, []string{"a"}, parseCommaSeparated("a"))
	assert.Equal(t, []string{"a", "b", "c"}, parseCommaSeparated("a,b,c"))
	assert.Equal(t, []string{"a", "b"}, parseCommaSeparated(" a , b "))
	assert.Equal(t, []string{"a", "b"}, parseCommaSeparated("a,,b,"))
}
