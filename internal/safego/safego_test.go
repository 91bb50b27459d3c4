package safego

import (
	"context"
	"sync"
	"testing"
	"time"
)

// waitOrFail blocks until wg is done or fails the test after two seconds.
func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not complete within timeout")
	}
}

func TestGo_RunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go(func() { wg.Done() })
	waitOrFail(t, &wg)
}

func TestGo_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go(func() {
		defer wg.Done()
		panic("intentional panic in test")
	})
	waitOrFail(t, &wg)
}

func TestGoWithTimeout_ContextHasDeadline(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var hasDeadline bool
	GoWithTimeout(time.Second, func(ctx context.Context) {
		defer wg.Done()
		_, hasDeadline = ctx.Deadline()
	})
	waitOrFail(t, &wg)
	if !hasDeadline {
		t.Error("context passed to fn has no deadline")
	}
}

func TestGoWithTimeout_ContextExpires(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var ctxErr error
	GoWithTimeout(10*time.Millisecond, func(ctx context.Context) {
		defer wg.Done()
		<-ctx.Done()
		ctxErr = ctx.Err()
	})
	waitOrFail(t, &wg)
	if ctxErr != context.DeadlineExceeded {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", ctxErr)
	}
}

func TestGoWithTimeout_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	GoWithTimeout(time.Second, func(ctx context.Context) {
		defer wg.Done()
		panic("intentional panic in test")
	})
	waitOrFail(t, &wg)
}
