package reports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/storage"
)

func TestReportKeyLayout(t *testing.T) {
	report := &billing.RunReport{
		RunID:    "0c9d7c7e-1b7a-4a33-9a0e-6c1df67f9a10",
		Job:      billing.JobBillingCycle,
		AsOfDate: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t,
		"runs/billing_cycle/2026-02-28/0c9d7c7e-1b7a-4a33-9a0e-6c1df67f9a10.json",
		ReportKey(report))
}

func TestDisabledArchiver(t *testing.T) {
	archiver, err := NewArchiver(context.Background(), storage.Config{})
	require.NoError(t, err)
	assert.False(t, archiver.Enabled())

	_, err = archiver.Archive(context.Background(), &billing.RunReport{})
	assert.ErrorIs(t, err, ErrArchiveDisabled)

	_, err = archiver.Fetch(context.Background(), "runs/x")
	assert.ErrorIs(t, err, ErrArchiveDisabled)

	// Health check is a no-op when archiving is off.
	assert.NoError(t, archiver.HealthCheck(context.Background()))
}
