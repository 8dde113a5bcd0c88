package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	req := httptest.NewRequest("GET", "/health/live", nil)
	rec := httptest.NewRecorder()

	checker.Liveness(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if body["status"] != StatusHealthy {
		t.Errorf("Expected status %q, got %v", StatusHealthy, body["status"])
	}
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("healthy with no dependencies", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil)

		status := checker.Check(context.Background())

		if status.Status != StatusHealthy {
			t.Errorf("Expected status %q, got %q", StatusHealthy, status.Status)
		}

		if status.Version != Version {
			t.Errorf("Expected version %q, got %q", Version, status.Version)
		}

		if len(status.Dependencies) != 0 {
			t.Errorf("Expected no dependencies, got %d", len(status.Dependencies))
		}
	})

	t.Run("healthy database", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		checker := NewHealthChecker(db, nil)
		status := checker.Check(context.Background())

		if status.Status != StatusHealthy {
			t.Errorf("Expected status %q, got %q", StatusHealthy, status.Status)
		}

		dbStatus, ok := status.Dependencies["database"]
		if !ok {
			t.Fatal("Expected database dependency in status")
		}
		if dbStatus.Status != StatusHealthy {
			t.Errorf("Expected database status %q, got %q", StatusHealthy, dbStatus.Status)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unmet sqlmock expectations: %v", err)
		}
	})

	t.Run("unhealthy when ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		checker := NewHealthChecker(db, nil)
		status := checker.Check(context.Background())

		if status.Status != StatusUnhealthy {
			t.Errorf("Expected status %q, got %q", StatusUnhealthy, status.Status)
		}

		dbStatus := status.Dependencies["database"]
		if dbStatus.Status != StatusUnhealthy {
			t.Errorf("Expected database status %q, got %q", StatusUnhealthy, dbStatus.Status)
		}
		if dbStatus.Message == "" {
			t.Error("Expected error message in dependency status")
		}
	})

	t.Run("unhealthy when query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("relation gone"))

		checker := NewHealthChecker(db, nil)
		status := checker.Check(context.Background())

		if status.Status != StatusUnhealthy {
			t.Errorf("Expected status %q, got %q", StatusUnhealthy, status.Status)
		}
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("returns 200 when healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		checker := NewHealthChecker(db, nil)

		req := httptest.NewRequest("GET", "/health/ready", nil)
		rec := httptest.NewRecorder()

		checker.Readiness(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
		}

		var status HealthStatus
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if status.Status != StatusHealthy {
			t.Errorf("Expected status %q, got %q", StatusHealthy, status.Status)
		}
	})

	t.Run("returns 503 when unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		checker := NewHealthChecker(db, nil)

		req := httptest.NewRequest("GET", "/health/ready", nil)
		rec := httptest.NewRecorder()

		checker.Readiness(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status code %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})
}

func TestRegisterHealthRoutes(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, checker)

	paths := []string{"/health", "/health/live", "/health/ready"}
	for _, path := range paths {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Path %s: expected status code %d, got %d", path, http.StatusOK, rec.Code)
		}
	}
}
