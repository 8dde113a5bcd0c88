// Package httputil provides the JSON request/response helpers and base
// middleware shared by the billing API handlers.
//
// Handlers write every payload through the same two shapes: a bare JSON
// document on success and {"error": "..."} on failure, so API consumers
// never branch on response structure.
//
//	httputil.WriteSuccess(w, record)
//	httputil.WriteCreated(w, assignment)
//	httputil.WriteValidationError(w, "invalid limit")
//
// Parsing helpers pair each extraction with an OrError variant that writes
// the 400 response itself, keeping handler bodies linear:
//
//	var req billing.MarkPaidRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return
//	}
//	limit := httputil.ParseQueryInt(r, "limit", 50)
//
// The middleware here is the transport-level base every route gets:
// request IDs, panic recovery, request logging and optional CORS. Domain
// concerns such as metrics live in pkg/observability.
package httputil
