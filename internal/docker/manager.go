package docker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/sarth-shah20/keel/internal/topology"
)

// Labels put on every container keel creates.
const (
	LabelProject = "keel.project"
	LabelService = "keel.service"
	LabelManaged = "keel.managed"
	LabelRun     = "keel.run"
)

// ContainerName is the fixed container name of a service, so a later run can
// find and adopt it.
func ContainerName(project, service string) string {
	return fmt.Sprintf("keel-%s-%s", project, service)
}

// Manager handles all interactions with the Docker daemon.
type Manager struct {
	cli *client.Client
	log *zap.SugaredLogger
	// progress receives pull and build output.
	progress io.Writer
}

// NewManager creates a Docker client connected to the local daemon.
func NewManager(log *zap.SugaredLogger) (*Manager, error) {
	// FromEnv honours DOCKER_HOST and friends, or defaults to the unix socket.
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{cli: cli, log: log, progress: os.Stderr}, nil
}

func (m *Manager) Close() error {
	return m.cli.Close()
}

// ImageExists reports whether the image is present locally.
func (m *Manager) ImageExists(ctx context.Context, image string) (bool, error) {
	_, _, err := m.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspect image %s: %w", image, err)
}

// EnsureImage pulls the image unless it is already present.
func (m *Manager) EnsureImage(ctx context.Context, image string) error {
	ok, err := m.ImageExists(ctx, image)
	if err != nil || ok {
		return err
	}

	m.log.Infow("pulling image", "image", image)
	reader, err := m.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if err := jsonmessage.DisplayJSONMessagesStream(reader, m.progress, 0, false, nil); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	return nil
}

// BuildImage builds the image for b and tags it.
func (m *Manager) BuildImage(ctx context.Context, b topology.Build, tag string) error {
	m.log.Infow("building image", "image", tag, "context", b.Context)

	buildCtx, err := archive.TarWithOptions(b.Context, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("archive build context %s: %w", b.Context, err)
	}
	defer buildCtx.Close()

	resp, err := m.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  b.Dockerfile,
		BuildArgs:   buildArgs(b.Args),
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{LabelManaged: "true"},
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	defer resp.Body.Close()

	// Build failures arrive as error messages inside the stream.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, m.progress, 0, false, nil); err != nil {
		return fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	return nil
}

func buildArgs(args map[string]string) map[string]*string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]*string, len(args))
	for k, v := range args {
		v := v
		out[k] = &v
	}
	return out
}

// EnsureNetwork creates a bridge network for the project if it doesn't exist.
func (m *Manager) EnsureNetwork(ctx context.Context, networkName string) error {
	args := filters.NewArgs(filters.Arg("name", networkName))
	networks, err := m.cli.NetworkList(ctx, types.NetworkListOptions{Filters: args})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}

	// The name filter matches substrings.
	for _, n := range networks {
		if n.Name == networkName {
			return nil
		}
	}

	m.log.Infow("creating network", "network", networkName)
	_, err = m.cli.NetworkCreate(ctx, networkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: map[string]string{LabelManaged: "true"},
	})
	if err != nil {
		return fmt.Errorf("failed to create network %s: %w", networkName, err)
	}
	return nil
}

// ContainerSpec is everything StartContainer needs to run one service.
type ContainerSpec struct {
	Project string
	Network string
	RunID   string
	Service topology.Service
}

func (s ContainerSpec) labels() map[string]string {
	l := map[string]string{
		LabelProject: s.Project,
		LabelService: s.Service.Name,
		LabelManaged: "true",
	}
	if s.RunID != "" {
		l[LabelRun] = s.RunID
	}
	return l
}

// StartContainer replaces any existing container of the service with a new
// one and starts it. The daemon applies the restart policy from then on.
func (m *Manager) StartContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	svc := spec.Service
	name := ContainerName(spec.Project, svc.Name)

	exposed, bindings, err := portBindings(svc.Ports)
	if err != nil {
		return "", err
	}

	config := &container.Config{
		Image:        svc.Image,
		Cmd:          svc.Command,
		Env:          svc.EnvList(),
		Labels:       spec.labels(),
		ExposedPorts: exposed,
	}

	hostConfig := &container.HostConfig{
		PortBindings:  bindings,
		Binds:         binds(svc.Volumes),
		RestartPolicy: restartPolicy(svc.Restart),
	}

	// Services reach each other by service name on the project network.
	networkConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {Aliases: []string{svc.Name}},
		},
	}

	if err := m.RemoveContainer(ctx, name); err != nil {
		return "", err
	}

	resp, err := m.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", name, err)
	}
	for _, w := range resp.Warnings {
		m.log.Warnw("docker warning", "container", name, "warning", w)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", name, err)
	}
	m.log.Debugw("container started", "container", name, "id", resp.ID)
	return resp.ID, nil
}

// StopContainer stops a container. A missing container is not an error.
func (m *Manager) StopContainer(ctx context.Context, name string, timeoutSeconds int) error {
	err := m.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeoutSeconds})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop %s: %w", name, err)
	}
	return nil
}

// RemoveContainer force-removes a container and keeps its bind mounts.
func (m *Manager) RemoveContainer(ctx context.Context, name string) error {
	err := m.cli.ContainerRemove(ctx, name, container.RemoveOptions{
		RemoveVolumes: false,
		Force:         true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// InspectContainer returns the container, or ok=false when it does not exist.
func (m *Manager) InspectContainer(ctx context.Context, name string) (types.ContainerJSON, bool, error) {
	info, err := m.cli.ContainerInspect(ctx, name)
	if errdefs.IsNotFound(err) {
		return types.ContainerJSON{}, false, nil
	}
	if err != nil {
		return types.ContainerJSON{}, false, fmt.Errorf("failed to inspect %s: %w", name, err)
	}
	return info, true, nil
}

// ContainerLogs copies the container's demultiplexed output to w.
func (m *Manager) ContainerLogs(ctx context.Context, name string, follow bool, w io.Writer) error {
	rc, err := m.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       "all",
	})
	if err != nil {
		return fmt.Errorf("failed to read logs of %s: %w", name, err)
	}
	defer rc.Close()

	_, err = stdcopy.StdCopy(w, w, rc)
	return err
}

// ListContainers returns every container labelled with the project.
func (m *Manager) ListContainers(ctx context.Context, projectName string) ([]types.Container, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", fmt.Sprintf("%s=%s", LabelProject, projectName))

	return m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
}

// RemoveNetwork deletes the project network. A missing network is not an error.
func (m *Manager) RemoveNetwork(ctx context.Context, networkName string) error {
	if err := m.cli.NetworkRemove(ctx, networkName); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove network %s: %w", networkName, err)
	}
	return nil
}
