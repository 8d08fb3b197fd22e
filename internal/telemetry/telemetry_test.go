package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-quant/backtest-engine/internal/telemetry"
)

func TestObserveThenServeShutsDownOnCancel(t *testing.T) {
	r := telemetry.New()
	r.Observe(10*time.Millisecond, nil)
	r.Observe(5*time.Millisecond, errors.New("boom"))

	// Observe has no public getters by design (the registry is the only
	// surface), so the recorded counts are not read back here; this checks
	// that Serve returns cleanly once its context is cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := "127.0.0.1:0"
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, nil, addr) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error on shutdown: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestNewRegistryIsIsolated(t *testing.T) {
	r1 := telemetry.New()
	r2 := telemetry.New()
	// Registering two independent recorders must not panic from
	// duplicate registration on a shared default registry.
	r1.Observe(time.Millisecond, nil)
	r2.Observe(time.Millisecond, nil)
}
