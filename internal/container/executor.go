// Package container adapts the Docker engine API into the daemon's
// Container Executor and Container Pool: the collaborator the Kill
// Switch's container path and the pre-flight sandbox checks lean on.
package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// EngagementLabel is the Docker label every sandbox container for an
// engagement is tagged with, so Executor can find and stop them without
// tracking IDs itself.
const EngagementLabel = "cyberredd.engagement_id"

// Executor lists, stops, and inspects the sandbox containers belonging to
// an engagement. It never creates containers itself — provisioning is the
// agent runtime's job; the daemon only needs to observe and terminate.
type Executor struct {
	api *client.Client
}

func NewExecutor() (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("container: new docker client: %w", err)
	}
	if err := ping(cli); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("container: docker unreachable: %w", err)
	}
	return &Executor{api: cli}, nil
}

func ping(cli *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

// Ping is the pre-flight "docker reachable" probe.
func (e *Executor) Ping(ctx context.Context) error {
	if e == nil || e.api == nil {
		return errors.New("container: executor not initialized")
	}
	_, err := e.api.Ping(ctx)
	return err
}

func (e *Executor) Close() error {
	if e == nil || e.api == nil {
		return nil
	}
	return e.api.Close()
}

// ListByEngagement returns every container (running or not) labelled for
// the given engagement.
func (e *Executor) ListByEngagement(ctx context.Context, engagementID string) ([]container.Summary, error) {
	args := filters.NewArgs()
	args.Add("label", EngagementLabel+"="+engagementID)
	return e.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
}

// StopEngagement stops (then force-removes) every container labelled for
// a single engagementID. Partial failures are joined and returned, but
// every container is attempted — one stuck container never blocks the
// others.
func (e *Executor) StopEngagement(ctx context.Context, engagementID string) error {
	containers, err := e.ListByEngagement(ctx, engagementID)
	if err != nil {
		return fmt.Errorf("container: list for engagement %s: %w", engagementID, err)
	}
	return e.stopAll(ctx, containers)
}

// ListAll returns every container (running or not) carrying the
// engagement label, regardless of its value — i.e. across every
// engagement, not just one.
func (e *Executor) ListAll(ctx context.Context) ([]container.Summary, error) {
	args := filters.NewArgs()
	args.Add("label", EngagementLabel)
	return e.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
}

// StopAll implements the killswitch.ContainerTerminator contract: it is
// the emergency-stop path and must terminate every sandbox container
// across every live engagement, not just one — the kill switch has no
// single engagement in scope, it is a global freeze.
func (e *Executor) StopAll(ctx context.Context) error {
	containers, err := e.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("container: list all: %w", err)
	}
	return e.stopAll(ctx, containers)
}

func (e *Executor) stopAll(ctx context.Context, containers []container.Summary) error {
	var errs []error
	for _, c := range containers {
		timeout := 5
		if err := e.api.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.ID, err))
		}
		if err := e.api.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}

// HostPortFor resolves the host-mapped port for a container's internal
// port, used by the pre-flight "sandbox network reachable" check.
func (e *Executor) HostPortFor(ctx context.Context, containerID string, containerPort int, protocol string) (string, error) {
	info, err := e.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", err
	}
	key, err := nat.NewPort(protocol, fmt.Sprintf("%d", containerPort))
	if err != nil {
		return "", err
	}
	bindings, ok := info.NetworkSettings.Ports[key]
	if !ok || len(bindings) == 0 {
		return "", fmt.Errorf("container: no host binding for %s/%s", key, protocol)
	}
	return bindings[0].HostPort, nil
}
