package async

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gradekeep/gradekeep/pkg/observability"
)

func TestSafeGoRunsTask(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	var mu sync.Mutex
	ran := false
	done := make(chan struct{})

	SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Error("expected task to run")
	}
}

func TestSafeGoRecoversPanic(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	done := make(chan struct{})

	SafeGo(context.Background(), logger, time.Second, "panicking task", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	// Reaching here without the test binary crashing is the assertion.
}

func TestSafeGoSurvivesParentCancel(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	SafeGo(parent, logger, time.Second, "detached task", func(ctx context.Context) error {
		errCh <- ctx.Err()
		return nil
	})

	select {
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			t.Error("task context should be detached from the cancelled parent")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}
