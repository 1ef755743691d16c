package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

// RuntimeOptions configure a Runtime.
type RuntimeOptions struct {
	RunID string
	// Rebuild forces images with a build section to be rebuilt.
	Rebuild     bool
	StopTimeout time.Duration
}

// Runtime runs a stack's services as containers. The daemon owns restart
// policies, so restarts survive keel itself going away.
type Runtime struct {
	m       *Manager
	project string
	network string
	opts    RuntimeOptions
}

var _ supervisor.Runtime = (*Runtime)(nil)

func NewRuntime(m *Manager, st *topology.Stack, opts RuntimeOptions) *Runtime {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	return &Runtime{m: m, project: st.Name, network: st.Network, opts: opts}
}

func (r *Runtime) container(name string) string {
	return ContainerName(r.project, name)
}

// Prepare creates the network and the volume directories, and builds or
// pulls the image.
func (r *Runtime) Prepare(ctx context.Context, svc topology.Service) error {
	if err := r.m.EnsureNetwork(ctx, r.network); err != nil {
		return err
	}

	// Docker would create missing bind sources owned by root.
	for _, v := range svc.Volumes {
		if err := os.MkdirAll(v.HostPath, 0o755); err != nil {
			return fmt.Errorf("create volume dir %s: %w", v.HostPath, err)
		}
	}

	if svc.Build == nil {
		return r.m.EnsureImage(ctx, svc.Image)
	}
	if !r.opts.Rebuild {
		ok, err := r.m.ImageExists(ctx, svc.Image)
		if err != nil || ok {
			return err
		}
	}
	return r.m.BuildImage(ctx, *svc.Build, svc.Image)
}

func (r *Runtime) Start(ctx context.Context, svc topology.Service) error {
	_, err := r.m.StartContainer(ctx, ContainerSpec{
		Project: r.project,
		Network: r.network,
		RunID:   r.opts.RunID,
		Service: svc,
	})
	return err
}

func (r *Runtime) Stop(ctx context.Context, name string) error {
	return r.m.StopContainer(ctx, r.container(name), int(r.opts.StopTimeout.Seconds()))
}

func (r *Runtime) Remove(ctx context.Context, name string) error {
	return r.m.RemoveContainer(ctx, r.container(name))
}

func (r *Runtime) Inspect(ctx context.Context, name string) (supervisor.Status, error) {
	info, ok, err := r.m.InspectContainer(ctx, r.container(name))
	if err != nil || !ok {
		return supervisor.Status{}, err
	}
	return statusFromInspect(info), nil
}

func (r *Runtime) Logs(ctx context.Context, name string, follow bool, w io.Writer) error {
	return r.m.ContainerLogs(ctx, r.container(name), follow, w)
}

func (r *Runtime) ManagesRestarts() bool { return true }

func (r *Runtime) Close() error { return r.m.Close() }

// RemoveOrphans removes project containers whose service is no longer part
// of the stack.
func (r *Runtime) RemoveOrphans(ctx context.Context, st *topology.Stack) ([]string, error) {
	containers, err := r.m.ListContainers(ctx, r.project)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var removed []string
	for _, c := range containers {
		svc := c.Labels[LabelService]
		if _, ok := st.Services[svc]; ok {
			continue
		}
		if err := r.m.RemoveContainer(ctx, c.ID); err != nil {
			return removed, err
		}
		removed = append(removed, svc)
	}
	return removed, nil
}

// Teardown removes the project network. Call after every container is gone.
func (r *Runtime) Teardown(ctx context.Context) error {
	return r.m.RemoveNetwork(ctx, r.network)
}
