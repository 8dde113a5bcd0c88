package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/duetrack/duetrack/pkg/observability"
)

// SafeGo executes fn in a goroutine with panic recovery, timeout
// enforcement and error logging. A panic in fn is logged with its stack
// trace instead of crashing the process; errors are logged and dropped,
// so only use this for tasks whose failure the caller does not need to
// observe.
func SafeGo(parentCtx context.Context, timeout time.Duration, logger *observability.Logger, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is SafeGo for functions that do not return errors.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, logger *observability.Logger, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, logger, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
