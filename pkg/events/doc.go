// Package events delivers billing lifecycle events to external HTTP
// consumers.
//
// The Manager implements the engine's EventSink: every payment record
// transition (created, paid, overdue, cancelled) and every run summary is
// fanned out to the subscriptions whose event filter matches. Deliveries
// are signed with HMAC-SHA256 when a subscription carries a secret, logged
// in a bounded in-memory store, rate limited per subscription, and retried
// with exponential backoff by a background worker.
//
// Typical wiring:
//
//	manager := events.NewManager(events.WithLogger(logger))
//	manager.Subscribe(&events.Subscription{
//		URL:    "https://erp.example.com/hooks/billing",
//		Events: []string{billing.EventRecordCreated, billing.EventRecordPaid},
//		Secret: "s3cret",
//	})
//	manager.StartRetryWorker(ctx)
//	engine := billing.NewEngine(store, catalog, directory,
//		billing.WithEventSink(manager))
//
// Receivers verify authenticity by recomputing the signature over the raw
// request body and comparing it to the X-Duetrack-Signature header with
// events.VerifySignature.
package events
