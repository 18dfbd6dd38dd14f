package container

import (
	"context"
	"testing"
	"time"

	"cyberredd/internal/cerr"
)

type fakeStopper struct {
	calls       []string
	stopAllHits int
}

func (f *fakeStopper) StopEngagement(ctx context.Context, engagementID string) error {
	f.calls = append(f.calls, engagementID)
	return nil
}

func (f *fakeStopper) StopAll(ctx context.Context) error {
	f.stopAllHits++
	return nil
}

func newTestPool(size int, stopper engagementStopper) *Pool {
	slots := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		slots <- struct{}{}
	}
	return &Pool{executor: stopper, slots: slots}
}

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	p := newTestPool(1, &fakeStopper{})
	lease, err := p.Acquire(context.Background(), "c1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if p.Available() != 0 {
		t.Fatalf("expected 0 available slots while leased, got %d", p.Available())
	}
	lease.Release(true)
	if p.Available() != 1 {
		t.Fatalf("expected 1 available slot after release, got %d", p.Available())
	}
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	p := newTestPool(1, &fakeStopper{})
	lease, err := p.Acquire(context.Background(), "c1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release(true)

	_, err = p.Acquire(context.Background(), "c2", 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error on exhausted pool")
	}
	if _, ok := err.(*cerr.ContainerPoolExhausted); !ok {
		t.Fatalf("expected *cerr.ContainerPoolExhausted, got %T", err)
	}
}

func TestPoolStopEngagementDelegatesToStopper(t *testing.T) {
	stopper := &fakeStopper{}
	p := newTestPool(2, stopper)
	if err := p.StopEngagement(context.Background(), "eng-1"); err != nil {
		t.Fatalf("StopEngagement: %v", err)
	}
	if len(stopper.calls) != 1 || stopper.calls[0] != "eng-1" {
		t.Fatalf("expected delegation to stopper, got %+v", stopper.calls)
	}
}

func TestPoolStopAllDelegatesToStopper(t *testing.T) {
	stopper := &fakeStopper{}
	p := newTestPool(2, stopper)
	if err := p.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if stopper.stopAllHits != 1 {
		t.Fatalf("expected one StopAll delegation, got %d", stopper.stopAllHits)
	}
}
