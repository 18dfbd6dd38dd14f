// Package killswitch implements the tri-path emergency stop: a freeze flag
// observable from any goroutine plus three independent termination paths
// raced under a shared 1.0 s deadline.
package killswitch

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"cyberredd/internal/cerr"

	"golang.org/x/sync/errgroup"
)

const (
	// TotalBudget is the overall wall-clock deadline for Trigger.
	TotalBudget = 1000 * time.Millisecond

	broadcastSoftTimeout = 500 * time.Millisecond
	signalSoftTimeout    = 500 * time.Millisecond
	containerSoftTimeout = 600 * time.Millisecond
)

// Broadcaster is the pub/sub bus's publish side, used for the broadcast
// termination path. Implemented by internal/bus.Bus.
type Broadcaster interface {
	Publish(channel string, message any) error
}

// ContainerTerminator is the container path's collaborator, implemented
// by internal/container.Pool. The kill switch is a global freeze, not a
// per-engagement one, so it has no engagement id to scope a stop to —
// StopAll must reach every live engagement's containers.
type ContainerTerminator interface {
	StopAll(ctx context.Context) error
}

// Signaler sends a termination signal to the daemon process group.
// ProcessLookupError (ESRCH) is treated as success: the process is
// already gone.
type Signaler interface {
	SignalGroup(sig os.Signal) error
}

// PathResult records one termination path's outcome.
type PathResult struct {
	Name     string
	Success  bool
	Duration time.Duration
	Reason   string
}

// Result is returned by Trigger, enumerating every path's outcome plus the
// total wall time spent.
type Result struct {
	Reason   string
	By       string
	Paths    []PathResult
	Total    time.Duration
	Triggered time.Time
}

// KillSwitch holds the single freeze flag. It has no other mutable state
// that is read without a lock.
type KillSwitch struct {
	frozen      atomic.Bool
	mu          sync.Mutex
	triggeredAt time.Time
	reason      string

	bus        Broadcaster
	signaler   Signaler
	containers ContainerTerminator
}

func New(bus Broadcaster, signaler Signaler, containers ContainerTerminator) *KillSwitch {
	return &KillSwitch{bus: bus, signaler: signaler, containers: containers}
}

// CheckFrozen must be called on every iteration of every agent work loop.
func (k *KillSwitch) CheckFrozen() error {
	if k.frozen.Load() {
		return &cerr.KillSwitchTriggered{Reason: k.reasonSnapshot()}
	}
	return nil
}

// IsFrozen reports the current freeze state.
func (k *KillSwitch) IsFrozen() bool { return k.frozen.Load() }

func (k *KillSwitch) reasonSnapshot() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reason
}

// Reset clears the freeze flag. Used only by tests.
func (k *KillSwitch) Reset() {
	k.frozen.Store(false)
	k.mu.Lock()
	k.triggeredAt = time.Time{}
	k.reason = ""
	k.mu.Unlock()
}

// Trigger sets the freeze flag first, observable to every concurrent
// reader immediately, then races the three termination paths under a
// shared 1.0 s deadline. It never panics and never blocks past the
// deadline, even if every path hangs.
func (k *KillSwitch) Trigger(reason, by string) *Result {
	start := time.Now()
	if by == "" {
		by = "operator"
	}

	k.mu.Lock()
	k.triggeredAt = start
	k.reason = reason
	k.mu.Unlock()
	k.frozen.Store(true) // observable before any path begins work

	ctx, cancel := context.WithTimeout(context.Background(), TotalBudget)
	defer cancel()

	results := make([]PathResult, 3)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results[0] = k.runBroadcastPath(gctx, reason)
		return nil
	})
	g.Go(func() error {
		results[1] = k.runSignalPath(gctx)
		return nil
	})
	g.Go(func() error {
		results[2] = k.runContainerPath(gctx, reason)
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// total budget exceeded; collect whatever is in results, possibly
		// zero-value entries for paths still in flight.
	}

	return &Result{
		Reason:    reason,
		By:        by,
		Paths:     results,
		Total:     time.Since(start),
		Triggered: start,
	}
}

func (k *KillSwitch) runBroadcastPath(ctx context.Context, reason string) PathResult {
	started := time.Now()
	result := PathResult{Name: "broadcast"}
	if k.bus == nil {
		result.Success = true
		result.Reason = "no bus configured"
		result.Duration = time.Since(started)
		return result
	}
	pctx, cancel := context.WithTimeout(ctx, broadcastSoftTimeout)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- k.bus.Publish("swarm:shutdown", map[string]any{"reason": reason}) }()
	select {
	case err := <-errc:
		result.Success = err == nil
		if err != nil {
			result.Reason = err.Error()
		}
	case <-pctx.Done():
		result.Success = false
		result.Reason = "timeout"
	}
	result.Duration = time.Since(started)
	return result
}

func (k *KillSwitch) runSignalPath(ctx context.Context) PathResult {
	started := time.Now()
	result := PathResult{Name: "signal"}
	if k.signaler == nil {
		result.Success = true
		result.Reason = "no signaler configured"
		result.Duration = time.Since(started)
		return result
	}
	sctx, cancel := context.WithTimeout(ctx, signalSoftTimeout)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- k.signaler.SignalGroup(os.Interrupt) }()
	select {
	case err := <-errc:
		result.Success = err == nil || isProcessGone(err)
		if err != nil && !result.Success {
			result.Reason = err.Error()
		}
	case <-sctx.Done():
		result.Success = false
		result.Reason = "timeout"
	}
	result.Duration = time.Since(started)
	return result
}

func (k *KillSwitch) runContainerPath(ctx context.Context, reason string) PathResult {
	started := time.Now()
	result := PathResult{Name: "container"}
	if k.containers == nil {
		result.Success = true
		result.Reason = "no container terminator configured"
		result.Duration = time.Since(started)
		return result
	}
	cctx, cancel := context.WithTimeout(ctx, containerSoftTimeout)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- k.containers.StopAll(cctx) }()
	select {
	case err := <-errc:
		result.Success = err == nil
		if err != nil {
			result.Reason = err.Error()
		}
	case <-cctx.Done():
		result.Success = false
		result.Reason = "timeout"
	}
	result.Duration = time.Since(started)
	return result
}

func isProcessGone(err error) bool {
	return err == os.ErrProcessDone
}
