package audit

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// IntegrationConfig configures audit logging for the application
type IntegrationConfig struct {
	// Database connection for DB logger
	DB *sql.DB

	// File logging configuration
	FileLoggingEnabled bool
	FileLogPath        string
	FileLogRotate      bool
	FileLogMaxSize     int64
	FileLogMaxFiles    int

	// DB logging configuration
	DBLoggingEnabled bool

	// Middleware configuration
	LogAllRequests bool // If false, only log mutations and sensitive operations

	// Retention policy
	RetentionPolicy RetentionPolicy
}

// DefaultIntegrationConfig returns a default integration configuration
func DefaultIntegrationConfig(db *sql.DB) IntegrationConfig {
	return IntegrationConfig{
		DB:                 db,
		FileLoggingEnabled: true,
		FileLogPath:        "/var/log/duetrack/audit",
		FileLogRotate:      true,
		FileLogMaxSize:     100 * 1024 * 1024, // 100MB
		FileLogMaxFiles:    10,
		DBLoggingEnabled:   true,
		LogAllRequests:     false,
		RetentionPolicy:    DefaultRetentionPolicy(),
	}
}

// SetupAuditLogging initializes audit logging for the application
func SetupAuditLogging(config IntegrationConfig) (*Middleware, *Handlers, error) {
	loggers := make([]Logger, 0)

	// Setup file logger if enabled
	if config.FileLoggingEnabled {
		fileConfig := FileLoggerConfig{
			BasePath: config.FileLogPath,
			Rotate:   config.FileLogRotate,
			MaxSize:  config.FileLogMaxSize,
			MaxFiles: config.FileLogMaxFiles,
		}

		fileLogger, err := NewFileLogger(fileConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file logger: %w", err)
		}

		loggers = append(loggers, fileLogger)
	}

	// Setup database logger if enabled
	var dbLogger *DBLogger
	if config.DBLoggingEnabled && config.DB != nil {
		var err error
		dbLogger, err = NewDBLogger(config.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database logger: %w", err)
		}

		loggers = append(loggers, dbLogger)
	}

	// Create multi-logger
	multiLogger := NewMultiLogger(loggers...)

	// Create middleware
	middleware := NewMiddleware(multiLogger, config.LogAllRequests)

	// Create store and handlers (only if DB logging is enabled)
	var handlers *Handlers
	if dbLogger != nil {
		store := NewDBStore(dbLogger)
		handlers = NewHandlers(store)
	}

	return middleware, handlers, nil
}

// Example: Logging a payment from a handler
/*
func (h *RecordHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := audit.FromContext(ctx)

	// ... mark the record paid ...

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"status": "pending"},
		After:  map[string]interface{}{"status": "paid"},
	}

	logger.LogRecordMutation(ctx, audit.EventRecordPaid, &record.UserID,
		record.ID, changes, "payment recorded")

	// ... return response ...
}
*/

// Example: Logging access to exported data
/*
func (h *ReportHandlers) export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// ... build the export ...

	audit.LogSuccess(ctx, audit.EventAccessExport,
		"payment records exported",
		map[string]interface{}{
			"format": format,
			"rows":   len(records),
		},
	)
}
*/

// WrapRouterWithAudit is a convenience function to wrap a router with audit middleware
func WrapRouterWithAudit(router *mux.Router, middleware *Middleware) http.Handler {
	return middleware.Handler(router)
}

// AddAuditRoutes adds audit API routes to a router
func AddAuditRoutes(router *mux.Router, handlers *Handlers) {
	if handlers != nil {
		handlers.RegisterRoutes(router)
	}
}
