// Package reports archives billing run reports to S3-compatible object
// storage. The archive is append-only operational history; the
// authoritative copy of each report stays in the billing_runs table.
package reports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/storage"
)

var reportsTracer = otel.Tracer("duetrack/reports")

// ErrArchiveDisabled is returned when no bucket is configured.
var ErrArchiveDisabled = errors.New("report archive is not configured")

// Archiver writes run reports to an S3 bucket under
// runs/<job>/<as-of-date>/<run_id>.json.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver creates an archiver from storage config. When no bucket is
// configured it returns a disabled archiver whose methods fail with
// ErrArchiveDisabled; callers treat that as "archiving off".
func NewArchiver(ctx context.Context, cfg storage.Config) (*Archiver, error) {
	if cfg.S3Bucket == "" {
		return &Archiver{}, nil
	}

	var awsConfig aws.Config
	var err error
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials for MinIO or explicit AWS keys.
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars).
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Archiver{client: client, bucket: cfg.S3Bucket}, nil
}

// NewArchiverWithClient wires an existing S3 client, for tests.
func NewArchiverWithClient(client *s3.Client, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

// Enabled reports whether the archiver has a bucket to write to.
func (a *Archiver) Enabled() bool {
	return a.client != nil
}

// ReportKey returns the object key a report is archived under.
func ReportKey(report *billing.RunReport) string {
	return fmt.Sprintf("runs/%s/%s/%s.json",
		report.Job, report.AsOfDate.Format("2006-01-02"), report.RunID)
}

// Archive uploads one run report as JSON with a SHA-256 checksum in the
// object metadata.
func (a *Archiver) Archive(ctx context.Context, report *billing.RunReport) (string, error) {
	if !a.Enabled() {
		return "", ErrArchiveDisabled
	}

	key := ReportKey(report)
	ctx, span := reportsTracer.Start(ctx, "Reports.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.String("run.id", report.RunID),
			attribute.String("run.job", string(report.Job)),
		),
	)
	defer span.End()

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal report")
		return "", fmt.Errorf("failed to marshal run report: %w", err)
	}

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])
	span.SetAttributes(attribute.Int("content.size", len(data)))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
			"run-id":          report.RunID,
			"job":             string(report.Job),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload report")
		return "", fmt.Errorf("failed to archive run report: %w", err)
	}

	span.SetStatus(codes.Ok, "report archived")
	return key, nil
}

// Fetch retrieves an archived report by key.
func (a *Archiver) Fetch(ctx context.Context, key string) (*billing.RunReport, error) {
	if !a.Enabled() {
		return nil, ErrArchiveDisabled
	}

	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archived report: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived report: %w", err)
	}

	var report billing.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode archived report: %w", err)
	}
	return &report, nil
}

// ListKeys returns the archive keys for one job, newest prefix first being
// a property of the date-ordered key layout.
func (a *Archiver) ListKeys(ctx context.Context, job billing.RunJob, limit int32) ([]string, error) {
	if !a.Enabled() {
		return nil, ErrArchiveDisabled
	}

	result, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(fmt.Sprintf("runs/%s/", job)),
		MaxKeys: aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archived reports: %w", err)
	}

	keys := make([]string, 0, len(result.Contents))
	for _, obj := range result.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys, nil
}

// HealthCheck verifies bucket connectivity.
func (a *Archiver) HealthCheck(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err != nil {
		return fmt.Errorf("report archive health check failed: %w", err)
	}
	return nil
}
