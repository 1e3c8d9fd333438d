// Package async provides panic-safe helpers for background work that must
// never take down or block a request, such as audit writes.
package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gradekeep/gradekeep/pkg/observability"
)

// SafeGo executes a function in a goroutine with context cancellation,
// panic recovery, and timeout enforcement.
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes:
//
//	async.SafeGo(ctx, logger, 5*time.Second, "audit append", func(ctx context.Context) error {
//	    return recorder.Record(ctx, rec)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		// Detach from the request's cancellation: the spawning request may
		// finish before the task does, and that must not abort it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}
