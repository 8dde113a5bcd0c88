package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Assignment lifecycle events
	EventAssignmentCreated     EventType = "assignment.created"
	EventAssignmentDeactivated EventType = "assignment.deactivated"
	EventAssignmentFlagged     EventType = "assignment.flagged_overdue"

	// Payment record lifecycle events
	EventRecordCreated   EventType = "record.created"
	EventRecordPaid      EventType = "record.paid"
	EventRecordOverdue   EventType = "record.overdue"
	EventRecordCancelled EventType = "record.cancelled"

	// Engine run events
	EventRunBillingCycle EventType = "run.billing_cycle"
	EventRunOverdueSweep EventType = "run.overdue_sweep"

	// Configuration events
	EventConfigChange        EventType = "config.change"
	EventConfigWebhookCreate EventType = "config.webhook_create"
	EventConfigWebhookUpdate EventType = "config.webhook_update"
	EventConfigWebhookDelete EventType = "config.webhook_delete"

	// Read/access events (for sensitive operations)
	EventAccessRecordRead EventType = "access.record_read"
	EventAccessReportRead EventType = "access.report_read"
	EventAccessExport     EventType = "access.export"
	EventAccessAPIRequest EventType = "access.api_request"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeAssignment ResourceType = "assignment"
	ResourceTypeRecord     ResourceType = "payment_record"
	ResourceTypePlan       ResourceType = "plan"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeRun        ResourceType = "run"
	ResourceTypeWebhook    ResourceType = "webhook"
	ResourceTypeConfig     ResourceType = "config"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// Core fields
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Subject information
	UserID         *int64 `json:"user_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Subject filters
	UserID         *int64
	OrganizationID *int64

	// Event filters
	EventTypes []EventType
	Status     *EventStatus

	// Resource filters
	ResourceType ResourceType
	ResourceID   string
	ResourceName string

	// Request context filters
	IPAddress string
	Method    string
	Path      string

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // field name to sort by
	SortOrder string // "asc" or "desc"
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// AuditStats represents statistics about audit logs
type AuditStats struct {
	TotalEvents    int64                 `json:"total_events"`
	EventsByType   map[EventType]int64   `json:"events_by_type"`
	EventsByStatus map[EventStatus]int64 `json:"events_by_status"`
	UniqueUsers    int64                 `json:"unique_users"`
	UniqueIPs      int64                 `json:"unique_ips"`
	FailedEvents   int64                 `json:"failed_events"`
	TimeRange      *TimeRange            `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RetentionPolicy defines how long audit logs should be kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep audit logs
	RetentionDays int

	// ArchiveEnabled determines if old logs should be archived before deletion
	ArchiveEnabled bool

	// ArchivePath is where archived logs should be stored
	ArchivePath string

	// CompressArchive determines if archived logs should be compressed
	CompressArchive bool
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:   90,
		ArchiveEnabled:  true,
		ArchivePath:     "/var/log/duetrack/audit-archive",
		CompressArchive: true,
	}
}
