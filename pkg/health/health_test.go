package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeCheckable struct {
	err error
}

func (f fakeCheckable) HealthCheck(context.Context) error {
	return f.err
}

func TestAdapterChecker(t *testing.T) {
	healthy := NewAdapterChecker("redis", fakeCheckable{}, time.Second)
	if healthy.Name() != "redis" {
		t.Fatalf("unexpected name %q", healthy.Name())
	}
	result := healthy.Check(context.Background())
	if result.Status != StatusHealthy || result.Message != "OK" {
		t.Fatalf("unexpected result %+v", result)
	}

	broken := NewAdapterChecker("redis", fakeCheckable{err: errors.New("connection refused")}, time.Second)
	result = broken.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %+v", result)
	}
	if result.Error != "connection refused" {
		t.Fatalf("expected error message, got %q", result.Error)
	}
}

func TestAdapterCheckerDefaultTimeout(t *testing.T) {
	checker := NewAdapterChecker("redis", fakeCheckable{}, 0)
	if checker.timeout <= 0 {
		t.Fatal("zero timeout must fall back to a default")
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewAdapterChecker("good", fakeCheckable{}, time.Second))
	registry.Register(NewAdapterChecker("bad", fakeCheckable{err: errors.New("down")}, time.Second))

	results := registry.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	if results["good"].Status != StatusHealthy || results["bad"].Status != StatusUnhealthy {
		t.Fatalf("unexpected results %+v", results)
	}
	if registry.Healthy(context.Background()) {
		t.Fatal("registry with a failing check must be unhealthy")
	}

	registry.Register(NewAdapterChecker("bad", fakeCheckable{}, time.Second))
	if !registry.Healthy(context.Background()) {
		t.Fatal("registry must be healthy after the check recovers")
	}
}
