package killswitch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBus struct {
	fail bool
}

func (b *fakeBus) Publish(channel string, message any) error {
	if b.fail {
		return errors.New("broadcast failed")
	}
	return nil
}

type fakeContainers struct{}

func (fakeContainers) StopAll(ctx context.Context) error { return nil }

// freezeProbe records whether the freeze flag was already set when the
// broadcast path published.
type freezeProbe struct {
	k         *KillSwitch
	sawFrozen bool
}

func (p *freezeProbe) Publish(channel string, message any) error {
	p.sawFrozen = p.k.IsFrozen()
	return nil
}

func TestTriggerSetsFreezeFlagBeforePathsRun(t *testing.T) {
	probe := &freezeProbe{}
	k := New(probe, nil, fakeContainers{})
	probe.k = k
	result := k.Trigger("test", "")
	if !probe.sawFrozen {
		t.Fatalf("expected freeze flag set before the broadcast path ran")
	}
	if !k.IsFrozen() {
		t.Fatalf("expected frozen after trigger")
	}
	if result.Total > TotalBudget+50*time.Millisecond {
		t.Fatalf("trigger exceeded budget: %v", result.Total)
	}
	if len(result.Paths) != 3 {
		t.Fatalf("expected 3 path results, got %d", len(result.Paths))
	}
}

func TestTriggerSurvivesFailingBroadcastPath(t *testing.T) {
	k := New(&fakeBus{fail: true}, nil, fakeContainers{})
	result := k.Trigger("test", "")
	if result.Total > TotalBudget+50*time.Millisecond {
		t.Fatalf("trigger exceeded budget with failing path: %v", result.Total)
	}
	found := false
	for _, p := range result.Paths {
		if p.Name == "broadcast" {
			found = true
			if p.Success {
				t.Fatalf("expected broadcast path to report failure")
			}
		}
	}
	if !found {
		t.Fatalf("expected a broadcast path result")
	}
}

func TestCheckFrozenUnderConcurrentLoad(t *testing.T) {
	k := New(nil, nil, nil)
	var wg sync.WaitGroup
	var tripped atomic.Int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				time.Sleep(time.Millisecond)
				if err := k.CheckFrozen(); err != nil {
					tripped.Add(1)
					return
				}
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	k.Trigger("load test", "operator")
	wg.Wait()
	if tripped.Load() != 100 {
		t.Fatalf("expected all 100 loops to observe the freeze, got %d", tripped.Load())
	}
}

func TestResetClearsState(t *testing.T) {
	k := New(nil, nil, nil)
	k.Trigger("x", "")
	k.Reset()
	if k.IsFrozen() {
		t.Fatalf("expected freeze flag cleared after reset")
	}
}
