package shutdown

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"
)

func TestWaitForShutdownRunsCleanupsInOrder(t *testing.T) {
	c := NewCoordinator(time.Second, log.New(testWriter{t}, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	var order []int

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := c.WaitForShutdown(ctx,
		func(context.Context) error { order = append(order, 1); return nil },
		func(context.Context) error { order = append(order, 2); return nil },
		func(context.Context) error { order = append(order, 3); return nil },
	)
	if err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestWaitForShutdownAggregatesErrors(t *testing.T) {
	c := NewCoordinator(time.Second, log.New(testWriter{t}, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	boom := errors.New("boom")
	err := c.WaitForShutdown(ctx,
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
	)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
}

func TestWaitForShutdownTimesOut(t *testing.T) {
	c := NewCoordinator(20*time.Millisecond, log.New(testWriter{t}, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.WaitForShutdown(ctx, func(cleanupCtx context.Context) error {
		<-cleanupCtx.Done()
		return cleanupCtx.Err()
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestNewCoordinatorDefaults(t *testing.T) {
	c := NewCoordinator(0, nil)
	if c.timeout != 25*time.Second {
		t.Errorf("timeout = %v, want 25s", c.timeout)
	}
	if c.logger == nil {
		t.Error("expected default logger")
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
