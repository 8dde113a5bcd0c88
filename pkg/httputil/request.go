package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseJSON decodes the request body into dest. Unknown fields are
// rejected so typos in client payloads fail loudly instead of billing
// with defaults.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes the body into dest, writing the 400 response
// itself on failure. Returns false when the handler should stop.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteValidationError(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 reads an int64 route variable. IDs in the billing API
// are int64 throughout, matching the BIGSERIAL keys.
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	raw := mux.Vars(r)[key]
	if raw == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, raw)
	}
	return val, nil
}

// ParsePathInt64OrError is ParsePathInt64 with the 400 response written
// on failure.
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteValidationError(w, err.Error())
		return 0, false
	}
	return val, true
}

// ParseQueryInt reads an integer query parameter, returning defaultVal
// when absent.
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, raw)
	}
	return val, nil
}

// ParseQueryInt64 reads an int64 query parameter, returning defaultVal
// when absent.
func ParseQueryInt64(r *http.Request, key string, defaultVal int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, raw)
	}
	return val, nil
}

// ParseQueryString reads a string query parameter, returning defaultVal
// when absent.
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryBool reads a boolean query parameter, returning defaultVal
// when absent.
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for query param %s: %s", key, raw)
	}
	return val, nil
}
