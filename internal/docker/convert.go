package docker

import (
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

func portBindings(ports []topology.PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}

	for _, p := range ports {
		port, err := nat.NewPort(p.Protocol, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port mapping %s: %w", p, err)
		}
		hostIP := p.HostIP
		if hostIP == "" {
			hostIP = "0.0.0.0"
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   hostIP,
			HostPort: strconv.Itoa(p.HostPort),
		})
	}
	return exposed, bindings, nil
}

func binds(volumes []topology.VolumeMount) []string {
	out := make([]string, 0, len(volumes))
	for _, v := range volumes {
		out = append(out, v.Bind())
	}
	return out
}

func restartPolicy(p topology.RestartPolicy) container.RestartPolicy {
	switch p {
	case topology.RestartAlways:
		return container.RestartPolicy{Name: container.RestartPolicyAlways}
	case topology.RestartOnFailure:
		return container.RestartPolicy{Name: container.RestartPolicyOnFailure}
	case topology.RestartUnlessStopped:
		return container.RestartPolicy{Name: container.RestartPolicyUnlessStopped}
	default:
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	}
}

func stateFromDocker(s *types.ContainerState) topology.State {
	if s == nil {
		return topology.StateCreated
	}
	if s.Restarting {
		return topology.StateRestarting
	}
	switch s.Status {
	case "running", "paused":
		return topology.StateRunning
	case "restarting":
		return topology.StateRestarting
	case "created":
		return topology.StateCreated
	default: // exited, dead, removing
		return topology.StateExited
	}
}

func statusFromInspect(info types.ContainerJSON) supervisor.Status {
	if info.ContainerJSONBase == nil {
		return supervisor.Status{}
	}

	st := supervisor.Status{
		Exists:   true,
		ID:       info.ID,
		Restarts: info.RestartCount,
		State:    stateFromDocker(info.State),
	}
	if info.State != nil {
		st.ExitCode = info.State.ExitCode
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil && t.Year() > 1 {
			st.StartedAt = t
		}
	}
	return st
}
