package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// LogRun logs a completed engine run
	LogRun(ctx context.Context, runID, job string, asOf time.Time, processed, skipped, errored int) error

	// LogRecordMutation logs a payment record mutation
	LogRecordMutation(ctx context.Context, eventType EventType, userID *int64, recordID int64, changes *ChangeDetails, message string) error

	// LogAssignmentMutation logs a subscription assignment mutation
	LogAssignmentMutation(ctx context.Context, eventType EventType, userID *int64, assignmentID int64, changes *ChangeDetails, message string) error

	// LogConfiguration logs a configuration change event
	LogConfiguration(ctx context.Context, eventType EventType, resourceID string, changes *ChangeDetails, message string) error

	// LogHTTPRequest logs an HTTP request (for middleware)
	LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// contextKey is the type for context keys
type contextKey string

const (
	// AuditLoggerKey is the context key for the audit logger
	AuditLoggerKey contextKey = "audit_logger"

	// RequestStartTimeKey is the context key for request start time
	RequestStartTimeKey contextKey = "request_start_time"
)

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	// Return a no-op logger if none is set
	return &noOpLogger{}
}

// WithRequestStartTime adds the request start time to the context
func WithRequestStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, t)
}

// GetRequestStartTime retrieves the request start time from context
func GetRequestStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(RequestStartTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// NewNoopLogger returns a logger that discards every event. It is the
// default for components that do not configure audit logging.
func NewNoopLogger() Logger {
	return &noOpLogger{}
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) LogRun(ctx context.Context, runID, job string, asOf time.Time, processed, skipped, errored int) error {
	return nil
}

func (l *noOpLogger) LogRecordMutation(ctx context.Context, eventType EventType, userID *int64, recordID int64, changes *ChangeDetails, message string) error {
	return nil
}

func (l *noOpLogger) LogAssignmentMutation(ctx context.Context, eventType EventType, userID *int64, assignmentID int64, changes *ChangeDetails, message string) error {
	return nil
}

func (l *noOpLogger) LogConfiguration(ctx context.Context, eventType EventType, resourceID string, changes *ChangeDetails, message string) error {
	return nil
}

func (l *noOpLogger) LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// runEventType maps a job name to its audit event type.
func runEventType(job string) EventType {
	switch job {
	case "billing_cycle":
		return EventRunBillingCycle
	case "overdue_sweep":
		return EventRunOverdueSweep
	default:
		return EventType("run." + job)
	}
}

// extractRequestInfo extracts common request information from context and HTTP request
func extractRequestInfo(ctx context.Context, r *http.Request) (userID *int64, orgID *int64, ipAddress, userAgent, requestID string) {
	userID, orgID = GetAuditContext(ctx)

	if reqID := getContextString(ctx, "request_id"); reqID != "" {
		requestID = reqID
	}

	if r != nil {
		ipAddress = getClientIP(r)
		userAgent = r.UserAgent()
	}

	return
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	// Fall back to RemoteAddr
	return r.RemoteAddr
}

// getContextString safely extracts a string value from context
func getContextString(ctx context.Context, key string) string {
	if val := ctx.Value(contextKey(key)); val != nil {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// buildBaseEvent creates a base audit event with common fields populated
func buildBaseEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	userID, orgID, ipAddress, userAgent, requestID := extractRequestInfo(ctx, r)

	event := &AuditEvent{
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		Status:         status,
		UserID:         userID,
		OrganizationID: orgID,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		RequestID:      requestID,
		Metadata:       make(map[string]interface{}),
	}

	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
	}

	return event
}

// buildRunEvent creates the audit event for a completed engine run.
func buildRunEvent(ctx context.Context, runID, job string, asOf time.Time, processed, skipped, errored int) *AuditEvent {
	event := buildBaseEvent(ctx, nil, runEventType(job), EventStatusSuccess)
	event.ResourceType = ResourceTypeRun
	event.ResourceID = runID
	event.Message = fmt.Sprintf("%s run completed for %s", job, asOf.Format("2006-01-02"))
	event.Metadata["as_of"] = asOf.Format("2006-01-02")
	event.Metadata["processed"] = processed
	event.Metadata["skipped"] = skipped
	event.Metadata["errored"] = errored
	return event
}

// QuickLog is a convenience function for simple audit logging
func QuickLog(ctx context.Context, eventType EventType, status EventStatus, message string) error {
	logger := FromContext(ctx)
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Message:   message,
	}
	return logger.Log(ctx, event)
}

// LogSuccess logs a successful event with a message
func LogSuccess(ctx context.Context, eventType EventType, message string, metadata map[string]interface{}) error {
	logger := FromContext(ctx)
	event := buildBaseEvent(ctx, nil, eventType, EventStatusSuccess)
	event.Message = message
	if metadata != nil {
		event.Metadata = metadata
	}
	return logger.Log(ctx, event)
}

// LogFailure logs a failed event with an error
func LogFailure(ctx context.Context, eventType EventType, message string, err error) error {
	logger := FromContext(ctx)
	event := buildBaseEvent(ctx, nil, eventType, EventStatusFailure)
	event.Message = message
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return logger.Log(ctx, event)
}

// LogDenied logs an access denied event
func LogDenied(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, reason string) error {
	logger := FromContext(ctx)
	event := buildBaseEvent(ctx, nil, eventType, EventStatusDenied)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = fmt.Sprintf("Access denied: %s", reason)
	return logger.Log(ctx, event)
}
