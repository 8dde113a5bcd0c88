// Package api exposes the billing engine over HTTP.
//
// Routes live under /api/v1 and fall into five groups: run triggers
// (billing cycle and overdue sweep), payment record operations (manual
// creation, settlement, cancellation), assignment administration, plan and
// stats reads, and the audit/event-subscription management surfaces.
// Handlers translate the engine's error taxonomy to HTTP status codes:
// validation problems map to 400, missing entities to 404, state machine
// violations and lost claims to 409, and store failures to 503.
package api
