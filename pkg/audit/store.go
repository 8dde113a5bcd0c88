package audit

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store provides methods for querying and managing audit logs
type Store interface {
	// Search searches audit logs based on filters
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)

	// Get retrieves a specific audit event by ID
	Get(ctx context.Context, id int64) (*AuditEvent, error)

	// GetStats retrieves audit log statistics
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error)

	// Export exports audit logs in the specified format
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup removes audit logs older than the retention period
	Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// DBStore implements Store interface using PostgreSQL
type DBStore struct {
	logger *DBLogger
}

// NewDBStore creates a new database-backed audit store
func NewDBStore(logger *DBLogger) *DBStore {
	return &DBStore{
		logger: logger,
	}
}

// Search searches audit logs based on filters
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	return s.logger.Search(ctx, filter)
}

// Get retrieves a specific audit event by ID
func (s *DBStore) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	return s.logger.getByID(ctx, id)
}

// GetStats retrieves audit log statistics
func (s *DBStore) GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error) {
	return s.logger.GetStats(ctx, startTime, endTime)
}

// Export exports audit logs in the specified format
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	// Get all events matching the filter
	events, err := s.logger.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatJSON:
		return exportJSON(events)
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	default:
		return exportJSON(events)
	}
}

// Cleanup removes audit logs older than the retention period
func (s *DBStore) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	cutoffDate := time.Now().AddDate(0, 0, -policy.RetentionDays)

	if policy.ArchiveEnabled {
		if err := s.archive(ctx, cutoffDate, policy); err != nil {
			return 0, fmt.Errorf("failed to archive audit logs: %w", err)
		}
	}

	// Delete old logs
	result, err := s.logger.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoffDate)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return rowsAffected, nil
}

// archive writes all events older than the cutoff to an NDJSON file under
// the policy's archive path before they are deleted.
func (s *DBStore) archive(ctx context.Context, cutoff time.Time, policy RetentionPolicy) error {
	events, err := s.logger.Search(ctx, SearchFilter{EndTime: &cutoff})
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	data, err := exportNDJSON(events)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(policy.ArchivePath, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("audit-archive-%s.ndjson", time.Now().Format("2006-01-02-15-04-05"))
	if policy.CompressArchive {
		name += ".gz"
	}
	path := filepath.Join(policy.ArchivePath, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	if policy.CompressArchive {
		gz := gzip.NewWriter(file)
		if _, err := gz.Write(data); err != nil {
			gz.Close()
			return fmt.Errorf("failed to write archive: %w", err)
		}
		return gz.Close()
	}

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	return nil
}
