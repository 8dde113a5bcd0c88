// Command duetrack-runner executes the scheduled billing jobs: the daily
// billing cycle, the overdue sweep and the stats rollup. It shares the
// database with the API server but runs as a separate process so cron
// workloads never compete with request traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/duetrack/duetrack/pkg/analytics"
	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/config"
	"github.com/duetrack/duetrack/pkg/directory"
	"github.com/duetrack/duetrack/pkg/observability"
	"github.com/duetrack/duetrack/pkg/plans"
	"github.com/duetrack/duetrack/pkg/reports"
	"github.com/duetrack/duetrack/pkg/storage/postgres"
)

var (
	billingSchedule = flag.String("billing-schedule", "1 0 * * *", "Cron schedule for the billing cycle (default: 00:01 UTC)")
	sweepSchedule   = flag.String("sweep-schedule", "30 0 * * *", "Cron schedule for the overdue sweep (default: 00:30 UTC)")
	statsSchedule   = flag.String("stats-schedule", "0 1 * * *", "Cron schedule for the daily stats rollup (default: 01:00 UTC)")
	runOnce         = flag.Bool("run-once", false, "Run the selected job once and exit (for testing or backfilling)")
	job             = flag.String("job", "all", "Job to run with --run-once: cycle, sweep, stats or all")
	runDate         = flag.String("date", "", "Date to run as (YYYY-MM-DD). If empty, cycle and sweep use today and stats uses yesterday. Only used with --run-once")
	organization    = flag.Int64("organization", 0, "Restrict the run to a single organization ID (0 = all organizations)")
)

type runner struct {
	engine     *billing.Engine
	aggregator *analytics.Aggregator
	archiver   *reports.Archiver
	orgID      *int64
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	store, err := postgres.NewStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	catalog, err := buildCatalog(cfg, store)
	if err != nil {
		log.Fatalf("Failed to build plan catalog: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	engine := billing.NewEngine(store, catalog, directory.NewPostgresDirectory(store.DB()),
		billing.WithLogger(logger),
		billing.WithWorkers(cfg.Billing.Workers),
		billing.WithPageSize(cfg.Billing.PageSize),
	)

	archiver, err := reports.NewArchiver(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to build report archiver: %v", err)
	}
	if archiver.Enabled() {
		log.Printf("Run reports will be archived to s3://%s", cfg.Storage.S3Bucket)
	}

	r := &runner{
		engine:     engine,
		aggregator: analytics.NewAggregator(store.DB()),
		archiver:   archiver,
	}
	if *organization != 0 {
		r.orgID = organization
	}

	// Run once mode (for testing or backfilling)
	if *runOnce {
		now := time.Now().UTC()
		cycleDate, statsDate := now, now.AddDate(0, 0, -1)
		if *runDate != "" {
			parsed, err := time.Parse("2006-01-02", *runDate)
			if err != nil {
				log.Fatalf("Invalid date format: %v", err)
			}
			cycleDate, statsDate = parsed, parsed
		}

		if err := r.runJob(ctx, *job, cycleDate, statsDate); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		log.Println("Run completed successfully")
		return
	}

	// Scheduled mode
	c := cron.New()

	_, err = c.AddFunc(*billingSchedule, func() {
		today := time.Now().UTC()
		log.Printf("Starting billing cycle for %s", today.Format("2006-01-02"))
		if err := r.runCycle(context.Background(), today); err != nil {
			log.Printf("Billing cycle failed: %v", err)
		} else {
			log.Println("Billing cycle completed successfully")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule billing cycle: %v", err)
	}

	_, err = c.AddFunc(*sweepSchedule, func() {
		today := time.Now().UTC()
		log.Printf("Starting overdue sweep for %s", today.Format("2006-01-02"))
		if err := r.runSweep(context.Background(), today); err != nil {
			log.Printf("Overdue sweep failed: %v", err)
		} else {
			log.Println("Overdue sweep completed successfully")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule overdue sweep: %v", err)
	}

	_, err = c.AddFunc(*statsSchedule, func() {
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		log.Printf("Starting stats rollup for %s", yesterday.Format("2006-01-02"))
		if err := r.runStats(context.Background(), yesterday); err != nil {
			log.Printf("Stats rollup failed: %v", err)
		} else {
			log.Println("Stats rollup completed successfully")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule stats rollup: %v", err)
	}

	c.Start()
	log.Println("Duetrack billing runner started")
	log.Printf("Billing cycle schedule: %s", *billingSchedule)
	log.Printf("Overdue sweep schedule: %s", *sweepSchedule)
	log.Printf("Stats rollup schedule: %s", *statsSchedule)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	log.Println("Runner stopped")
}

func (r *runner) runJob(ctx context.Context, job string, cycleDate, statsDate time.Time) error {
	switch job {
	case "cycle":
		return r.runCycle(ctx, cycleDate)
	case "sweep":
		return r.runSweep(ctx, cycleDate)
	case "stats":
		return r.runStats(ctx, statsDate)
	case "all":
		if err := r.runCycle(ctx, cycleDate); err != nil {
			return err
		}
		if err := r.runSweep(ctx, cycleDate); err != nil {
			return err
		}
		return r.runStats(ctx, statsDate)
	default:
		return fmt.Errorf("unknown job %q (want cycle, sweep, stats or all)", job)
	}
}

func (r *runner) runCycle(ctx context.Context, asOf time.Time) error {
	report, err := r.engine.RunBillingCycle(ctx, asOf, r.orgID)
	if err != nil {
		return err
	}
	log.Printf("Billing cycle %s: processed=%d skipped=%d errored=%d", report.RunID, report.Processed, report.Skipped, report.Errored)
	r.archive(ctx, report)
	return nil
}

func (r *runner) runSweep(ctx context.Context, asOf time.Time) error {
	report, err := r.engine.RunOverdueSweep(ctx, asOf, r.orgID)
	if err != nil {
		return err
	}
	log.Printf("Overdue sweep %s: processed=%d skipped=%d errored=%d", report.RunID, report.Processed, report.Skipped, report.Errored)
	r.archive(ctx, report)
	return nil
}

func (r *runner) runStats(ctx context.Context, date time.Time) error {
	return r.aggregator.AggregateBillingStatsDaily(ctx, date)
}

func (r *runner) archive(ctx context.Context, report *billing.RunReport) {
	if !r.archiver.Enabled() {
		return
	}
	key, err := r.archiver.Archive(ctx, report)
	if err != nil {
		log.Printf("Failed to archive run report %s: %v", report.RunID, err)
		return
	}
	log.Printf("Archived run report to %s", key)
}

func buildCatalog(cfg *config.Config, store *postgres.Store) (plans.Catalog, error) {
	if cfg.Billing.PlanFile != "" {
		return plans.NewFileCatalog(cfg.Billing.PlanFile)
	}
	return plans.NewPostgresCatalog(store.DB()), nil
}
