// Package audit provides audit logging for billing mutations, scheduled runs,
// and API access.
//
// # Overview
//
// This package records every state transition the billing engine performs,
// with before/after values and request context, so operators can answer
// "who changed this record and when" long after the fact.
//
// # Event Types
//
// Assignments: assignment.created, assignment.deactivated, assignment.flagged_overdue
// Records: record.created, record.paid, record.overdue, record.cancelled
// Runs: run.billing_cycle, run.overdue_sweep
// Config: config.change, config.webhook_create, config.webhook_update, config.webhook_delete
// Access: access.record_read, access.report_read, access.export, access.api_request
//
// # Usage Example
//
// Log a record mutation with before/after:
//
//	logger.LogRecordMutation(ctx, audit.EventRecordPaid, &userID, record.ID,
//		&audit.ChangeDetails{
//			Before: map[string]interface{}{"status": "pending"},
//			After:  map[string]interface{}{"status": "paid"},
//		},
//		"payment recorded")
//
// Log a completed run:
//
//	logger.LogRun(ctx, report.RunID, string(report.Job), report.AsOfDate,
//		report.Processed, report.Skipped, report.Errored)
//
// Search audit logs:
//
//	events, err := store.Search(ctx, audit.SearchFilter{
//		StartTime:  &start,
//		EndTime:    &end,
//		UserID:     &userID,
//		EventTypes: []audit.EventType{audit.EventRecordPaid},
//		Limit:      100,
//	})
//
// # Retention Policy
//
// Default: 90 days active retention
// Archiving: NDJSON export, optionally gzip-compressed, then purge
// Export: JSON, CSV, NDJSON formats for external analysis
//
// # Related Packages
//
//   - pkg/billing: The engine whose mutations are recorded here
//   - pkg/api: HTTP request logging via Middleware
package audit
