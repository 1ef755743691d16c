package topology

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
)

// ParsePorts parses a compose style port spec ("8000:8000", "127.0.0.1:80:8080/tcp")
// into one or more mappings. Ranges expand to one mapping per port.
func ParsePorts(spec string) ([]PortMapping, error) {
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid port mapping %q: %v", ErrInvalidConfig, spec, err)
	}

	out := make([]PortMapping, 0, len(mappings))
	for _, pm := range mappings {
		containerPort := pm.Port.Int()
		if containerPort <= 0 {
			return nil, fmt.Errorf("%w: invalid container port in %q", ErrInvalidConfig, spec)
		}

		// An unpublished port ("8000") maps to the same host port.
		hostPort := containerPort
		if pm.Binding.HostPort != "" {
			hostPort, err = strconv.Atoi(pm.Binding.HostPort)
			if err != nil || hostPort <= 0 || hostPort > 65535 {
				return nil, fmt.Errorf("%w: invalid host port in %q", ErrInvalidConfig, spec)
			}
		}

		out = append(out, PortMapping{
			HostIP:        pm.Binding.HostIP,
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Protocol:      pm.Port.Proto(),
		})
	}
	return out, nil
}

// ParseVolume parses "host:container[:ro|:rw]". Relative host paths are
// resolved against baseDir.
func ParseVolume(spec, baseDir string) (VolumeMount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return VolumeMount{}, fmt.Errorf("%w: volume %q must be host:container[:mode]", ErrInvalidConfig, spec)
	}

	host, target := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if host == "" || target == "" {
		return VolumeMount{}, fmt.Errorf("%w: volume %q has an empty path", ErrInvalidConfig, spec)
	}
	if !strings.HasPrefix(target, "/") {
		return VolumeMount{}, fmt.Errorf("%w: volume %q container path must be absolute", ErrInvalidConfig, spec)
	}

	vm := VolumeMount{ContainerPath: filepath.ToSlash(filepath.Clean(target))}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			vm.ReadOnly = true
		case "rw":
		default:
			return VolumeMount{}, fmt.Errorf("%w: volume %q has unknown mode %q", ErrInvalidConfig, spec, parts[2])
		}
	}

	if !filepath.IsAbs(host) {
		host = filepath.Join(baseDir, host)
	}
	abs, err := filepath.Abs(host)
	if err != nil {
		return VolumeMount{}, fmt.Errorf("resolve volume host path %q: %w", host, err)
	}
	vm.HostPath = abs

	return vm, nil
}
