package audit

import (
	"context"
	"time"

	"github.com/gradekeep/gradekeep/pkg/async"
	"github.com/gradekeep/gradekeep/pkg/observability"
)

// AsyncRecorder wraps another Recorder and writes entries on a detached
// goroutine so audit persistence never sits on the authorization hot path.
// Failures are logged and counted, not returned.
type AsyncRecorder struct {
	inner   Recorder
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
}

// NewAsyncRecorder creates a fire-and-forget recorder around inner.
// A zero timeout defaults to 5 seconds.
func NewAsyncRecorder(inner Recorder, logger *observability.Logger, metrics *observability.Metrics, timeout time.Duration) *AsyncRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncRecorder{inner: inner, logger: logger, metrics: metrics, timeout: timeout}
}

// Record schedules the write and returns immediately
func (r *AsyncRecorder) Record(ctx context.Context, rec Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	async.SafeGo(ctx, r.logger, r.timeout, "audit_write", func(ctx context.Context) error {
		if err := r.inner.Record(ctx, rec); err != nil {
			if r.metrics != nil {
				r.metrics.AuditWriteFailuresTotal.Inc()
			}
			r.logger.WithError(err).
				WithField("principal_id", rec.PrincipalID).
				WithField("module", rec.Module).
				Warn("Audit write failed")
			return nil
		}
		if r.metrics != nil {
			r.metrics.AuditWritesTotal.Inc()
		}
		return nil
	})

	return nil
}
