// Package async provides safe fire-and-forget goroutine execution for
// background tasks.
//
// SafeGo runs a function in a goroutine with panic recovery, a per-task
// timeout and error logging. Use it instead of a bare `go func()` for
// work that must not crash the process, such as outbound event delivery.
//
//	async.SafeGo(ctx, 30*time.Second, "event delivery", func(ctx context.Context) error {
//		return deliver(ctx, event)
//	})
package async
