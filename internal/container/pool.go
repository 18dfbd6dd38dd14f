package container

import (
	"context"
	"time"

	"cyberredd/internal/cerr"
)

// Lease is an acquired pool slot. Callers must Release it exactly once.
type Lease struct {
	ContainerID string
	pool        *Pool
}

// Release returns the slot to the pool. The slot is freed whatever the
// value of healthy; the pool neither stops nor re-checks an unhealthy
// container.
func (l *Lease) Release(healthy bool) {
	l.pool.release(l, healthy)
}

// engagementStopper is the narrow slice of Executor the pool needs for
// killswitch delegation, kept as an interface so tests can substitute a
// fake instead of a live Docker daemon.
type engagementStopper interface {
	StopEngagement(ctx context.Context, engagementID string) error
	StopAll(ctx context.Context) error
}

// Pool bounds concurrent sandbox container usage: a fixed number of
// slots, acquired with a timeout and released without a health gate (spec §5:
// "Container pool, if backed by real containers, acquires with timeout
// ..."). Pool.StopAll satisfies killswitch.ContainerTerminator by
// delegating to the underlying Executor.
type Pool struct {
	executor engagementStopper
	slots    chan struct{}
}

func NewPool(executor *Executor, size int) *Pool {
	if size <= 0 {
		size = 4
	}
	slots := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		slots <- struct{}{}
	}
	return &Pool{executor: executor, slots: slots}
}

// Acquire blocks until a slot is free or timeout elapses, whichever comes
// first. containerID identifies which sandbox container the caller will
// drive with the reserved slot; the pool does not itself create the
// container.
func (p *Pool) Acquire(ctx context.Context, containerID string, timeout time.Duration) (*Lease, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-p.slots:
		return &Lease{ContainerID: containerID, pool: p}, nil
	case <-deadline.Done():
		return nil, &cerr.ContainerPoolExhausted{Waited: timeout.String()}
	}
}

func (p *Pool) release(lease *Lease, healthy bool) {
	// An unhealthy release still frees the slot (capacity must not leak)
	// but the caller is expected to have already flagged the container
	// for replacement via StopEngagement before releasing.
	_ = healthy
	select {
	case p.slots <- struct{}{}:
	default:
		// Pool was never short a slot for this lease (double release);
		// drop rather than block or panic.
	}
}

// StopEngagement stops a single engagement's containers, delegating to
// the underlying Executor.
func (p *Pool) StopEngagement(ctx context.Context, engagementID string) error {
	return p.executor.StopEngagement(ctx, engagementID)
}

// StopAll satisfies killswitch.ContainerTerminator: it is the global
// emergency-stop path and terminates containers across every engagement.
func (p *Pool) StopAll(ctx context.Context) error {
	return p.executor.StopAll(ctx)
}

// Available reports the number of free slots, used for metrics.
func (p *Pool) Available() int { return len(p.slots) }
