// Package billing implements the recurring billing cycle engine: anchored
// date arithmetic, optimistic cycle claims, overdue sweeps and payment
// settlement.
//
// # Overview
//
// A subscription assignment links a user to a billing plan and carries an
// immutable anchor date plus a cycle index. Every billing date is computed
// from the anchor, so schedules never drift: a monthly plan anchored on
// Jan 31 bills on Feb 28, Mar 31, Apr 30 and so on. The engine's two batch
// jobs advance these assignments:
//
//   - RunBillingCycle claims each cycle that has come due and creates a
//     pending payment record for it
//   - RunOverdueSweep moves pending records past their due date to overdue
//
// Both jobs are stateless, idempotent and safe to run concurrently. All
// coordination happens through conditional writes in the Store: a cycle is
// claimed by advancing the assignment's cycle index only if it still holds
// its observed value, with a unique idempotency key per (user, assignment,
// due date) as the second line of defense. Workers that lose a claim skip
// the entity without error.
//
// # Usage Example
//
//	store, err := postgres.NewStore(databaseURL)
//	if err != nil {
//		log.Fatalf("store: %v", err)
//	}
//	engine := billing.NewEngine(store, catalog, directory,
//		billing.WithLogger(logger),
//		billing.WithWorkers(8),
//	)
//
//	report, err := engine.RunBillingCycle(ctx, time.Now(), nil)
//	if err != nil {
//		log.Printf("run aborted: %v", err)
//	}
//	log.Printf("processed=%d skipped=%d errored=%d",
//		report.Processed, report.Skipped, report.Errored)
//
// # Error Handling
//
// Failures are classified per entity and never abort a batch:
//
//   - ConfigurationError: bad cycle type or unresolvable plan, skip and report
//   - ErrConcurrencyConflict: claim lost to a peer, skip silently
//   - TransientStoreError: datastore hiccup, entity retried next run
//   - DataIntegrityViolation: inconsistent row, flagged for manual review
//   - InvalidStateTransition: illegal record state change, rejected
//
// # Related Packages
//
//   - pkg/storage: Store implementations (PostgreSQL, in-memory)
//   - pkg/plans: PlanCatalog implementations with caching
//   - pkg/directory: Directory implementation over the user store
//   - pkg/events: EventSink delivering webhook notifications
package billing
