package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markPaidPayload struct {
	Method           string `json:"method"`
	GatewayReference string `json:"gateway_reference"`
}

func TestParseJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/records/9/pay",
		strings.NewReader(`{"method":"upi","gateway_reference":"txn-88f1"}`))

	var payload markPaidPayload
	require.NoError(t, ParseJSON(r, &payload))
	assert.Equal(t, "upi", payload.Method)
	assert.Equal(t, "txn-88f1", payload.GatewayReference)
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	// "amount" is not a mark-paid field. A silent zero here would record
	// the payment against the wrong method, so the decode must fail.
	r := httptest.NewRequest(http.MethodPost, "/records/9/pay",
		strings.NewReader(`{"method":"upi","amount":15000}`))

	var payload markPaidPayload
	err := ParseJSON(r, &payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParseJSONOrErrorWritesValidation(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	var payload markPaidPayload
	ok := ParseJSONOrError(rec, r, &payload)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErr(t, rec), "invalid JSON")
}

func pathRequest(t *testing.T, pattern, url string) *http.Request {
	t.Helper()
	var captured *http.Request
	router := mux.NewRouter()
	router.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		captured = r
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, url, nil))
	require.NotNil(t, captured, "route did not match")
	return captured
}

func TestParsePathInt64(t *testing.T) {
	r := pathRequest(t, "/users/{user_id}/assignments", "/users/1234567890123/assignments")

	id, err := ParsePathInt64(r, "user_id")
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890123), id)
}

func TestParsePathInt64Invalid(t *testing.T) {
	r := pathRequest(t, "/assignments/{id}", "/assignments/monthly-basic")

	_, err := ParsePathInt64(r, "id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid integer")

	_, err = ParsePathInt64(r, "assignment_id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing path parameter")
}

func TestParsePathInt64OrError(t *testing.T) {
	r := pathRequest(t, "/records/{record_id}", "/records/abc")
	rec := httptest.NewRecorder()

	_, ok := ParsePathInt64OrError(rec, r, "record_id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet,
		"/records?limit=25&organization_id=3&status=overdue&include_cancelled=true", nil)

	limit, err := ParseQueryInt(r, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 25, limit)

	offset, err := ParseQueryInt(r, "offset", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, offset, "absent param should fall back to default")

	orgID, err := ParseQueryInt64(r, "organization_id", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), orgID)

	assert.Equal(t, "overdue", ParseQueryString(r, "status", ""))
	assert.Equal(t, "pending", ParseQueryString(r, "missing", "pending"))

	include, err := ParseQueryBool(r, "include_cancelled", false)
	require.NoError(t, err)
	assert.True(t, include)
}

func TestParseQueryHelpersInvalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/records?limit=many&include_cancelled=si", nil)

	_, err := ParseQueryInt(r, "limit", 50)
	assert.Error(t, err)

	_, err = ParseQueryInt64(r, "limit", 50)
	assert.Error(t, err)

	_, err = ParseQueryBool(r, "include_cancelled", false)
	assert.Error(t, err)
}
