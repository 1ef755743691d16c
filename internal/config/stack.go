package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sarth-shah20/keel/internal/topology"
)

const (
	defaultProbeInterval = time.Second
	defaultProbeTimeout  = time.Minute
)

// Stack converts the file representation into the validated service
// topology. All problems are reported at once.
func (c *Config) Stack() (*topology.Stack, error) {
	st := &topology.Stack{
		Name:     c.Name,
		Version:  c.Version,
		Network:  c.Network,
		BaseDir:  c.baseDir,
		Services: make(map[string]topology.Service, len(c.Services)),
	}
	if st.Network == "" && c.Name != "" {
		st.Network = "keel-" + c.Name
	}

	var errs []error
	for name, raw := range c.Services {
		svc, err := c.service(name, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		st.Services[name] = svc
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := topology.Validate(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (c *Config) service(name string, raw Service) (topology.Service, error) {
	svc := topology.Service{
		Name:      name,
		Image:     raw.Image,
		Command:   raw.Command,
		DependsOn: raw.DependsOn,
	}

	var err error
	if svc.Restart, err = topology.ParseRestartPolicy(raw.Restart); err != nil {
		return svc, fmt.Errorf("service %q: %w", name, err)
	}
	if svc.WaitFor, err = topology.ParseWaitCondition(raw.WaitFor); err != nil {
		return svc, fmt.Errorf("service %q: %w", name, err)
	}
	if svc.Environment, err = parseKeyValues(raw.Environment); err != nil {
		return svc, fmt.Errorf("service %q environment: %w", name, err)
	}

	if raw.Build != nil {
		args, err := parseKeyValues(raw.Build.Args)
		if err != nil {
			return svc, fmt.Errorf("service %q build args: %w", name, err)
		}
		svc.Build = &topology.Build{
			Context:    c.resolve(raw.Build.Context),
			Dockerfile: raw.Build.Dockerfile,
			Args:       args,
		}
		if svc.Build.Dockerfile == "" {
			svc.Build.Dockerfile = "Dockerfile"
		}
		if svc.Image == "" {
			svc.Image = fmt.Sprintf("keel-%s-%s:latest", c.Name, name)
		}
	}

	for _, spec := range raw.Ports {
		mappings, err := topology.ParsePorts(spec)
		if err != nil {
			return svc, fmt.Errorf("service %q: %w", name, err)
		}
		svc.Ports = append(svc.Ports, mappings...)
	}

	for _, spec := range raw.Volumes {
		vm, err := topology.ParseVolume(spec, c.baseDir)
		if err != nil {
			return svc, fmt.Errorf("service %q: %w", name, err)
		}
		svc.Volumes = append(svc.Volumes, vm)
	}

	if raw.Readiness != nil {
		p := topology.Probe{
			TCP:      raw.Readiness.TCP,
			HTTP:     raw.Readiness.HTTP,
			Interval: raw.Readiness.Interval,
			Timeout:  raw.Readiness.Timeout,
		}
		if p.Interval <= 0 {
			p.Interval = defaultProbeInterval
		}
		if p.Timeout <= 0 {
			p.Timeout = defaultProbeTimeout
		}
		svc.Readiness = &p
	}

	if raw.Backoff != nil {
		svc.Backoff = topology.Backoff{
			Initial:    raw.Backoff.Initial,
			Max:        raw.Backoff.Max,
			ResetAfter: raw.Backoff.ResetAfter,
		}
	}

	return svc, nil
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q is not KEY=VALUE", topology.ErrInvalidConfig, kv)
		}
		out[key] = value
	}
	return out, nil
}
