package session

import (
	"context"
	"fmt"
	"time"
)

// ShutdownResult is returned by GracefulShutdown; a non-empty Failures
// list means the daemon must exit 1.
type ShutdownResult struct {
	Failures []error
	TimedOut bool
}

// DaemonShutdownEvent is published to every subscriber as the first step
// of graceful shutdown.
type DaemonShutdownEvent struct {
	At time.Time `json:"at"`
}

// GracefulShutdown runs the five-step sequence from spec §4.3: notify,
// pause every RUNNING engagement, checkpoint every PAUSED engagement,
// clear subscriptions, and (by the caller, after this returns) shut down
// the bus and remove the socket file; the daemon writes no PID file. It
// never aborts early on a
// per-engagement failure — those are collected and returned.
func (m *Manager) GracefulShutdown(ctx context.Context, scopeHash string) ShutdownResult {
	var result ShutdownResult

	m.NotifyAllClients(DaemonShutdownEvent{At: m.clock()})

	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		result.TimedOut = true
	}

	for _, id := range m.snapshotIDs() {
		rec, err := m.lookup(id)
		if err != nil {
			continue
		}
		if rec.eng.State == Running {
			if _, err := m.PauseEngagement(id); err != nil {
				result.Failures = append(result.Failures, fmt.Errorf("pausing %s: %w", id, err))
			}
		}
	}

	for _, id := range m.snapshotIDs() {
		rec, err := m.lookup(id)
		if err != nil {
			continue
		}
		if rec.eng.State == Paused {
			if _, _, err := m.StopEngagement(id, scopeHash); err != nil {
				result.Failures = append(result.Failures, fmt.Errorf("checkpointing %s: %w", id, err))
			}
		}
		select {
		case <-ctx.Done():
			result.TimedOut = true
		default:
		}
	}

	m.DisconnectAllClients()

	return result
}

func (m *Manager) snapshotIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...)
}
