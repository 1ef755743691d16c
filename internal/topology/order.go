package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// StartOrder returns service names so that every service comes after all of
// its dependencies. Ties are broken by name, so the order is stable between
// runs.
func StartOrder(st *Stack) ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[string]int, len(st.Services))
	order := make([]string, 0, len(st.Services))
	var path []string

	var visit func(string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: %s", ErrDependencyCycle, cyclePath(path, name))
		case visited:
			return nil
		}

		svc, ok := st.Services[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownService, name)
		}

		state[name] = visiting
		path = append(path, name)
		for _, dep := range sortedCopy(svc.DependsOn) {
			if _, ok := st.Services[dep]; !ok {
				return fmt.Errorf("%w: service %q depends_on %q, but %q does not exist", ErrUnknownService, name, dep, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = visited

		order = append(order, name)
		return nil
	}

	for _, name := range st.Names() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// StopOrder is StartOrder reversed: dependents go down before what they use.
func StopOrder(st *Stack) ([]string, error) {
	order, err := StartOrder(st)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

func cyclePath(path []string, start string) string {
	idx := 0
	for i, n := range path {
		if n == start {
			idx = i
			break
		}
	}
	cycle := append(append([]string{}, path[idx:]...), start)

	quoted := make([]string, len(cycle))
	for i, n := range cycle {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, " -> ")
}

// Validate checks the stack for structural problems and returns all of them
// joined. Every returned error matches ErrInvalidConfig, ErrUnknownService or
// ErrDependencyCycle.
func Validate(st *Stack) error {
	var errs []error

	if strings.TrimSpace(st.Name) == "" {
		errs = append(errs, fmt.Errorf("%w: project name is required", ErrInvalidConfig))
	}
	if len(st.Services) == 0 {
		errs = append(errs, fmt.Errorf("%w: no services defined", ErrInvalidConfig))
	}

	// port/proto -> bind IP -> service
	hostPorts := map[string]map[string]string{}
	for _, name := range st.Names() {
		svc := st.Services[name]

		if svc.Image == "" && svc.Build == nil && len(svc.Command) == 0 {
			errs = append(errs, fmt.Errorf("%w: service %q needs an image, a build context or a command", ErrInvalidConfig, name))
		}
		if svc.Build != nil && strings.TrimSpace(svc.Build.Context) == "" {
			errs = append(errs, fmt.Errorf("%w: service %q build context is empty", ErrInvalidConfig, name))
		}

		for _, p := range svc.Ports {
			key := fmt.Sprintf("%d/%s", p.HostPort, p.Protocol)
			ip := bindIP(p.HostIP)
			if other, ok := conflictingBinding(hostPorts[key], ip); ok {
				errs = append(errs, fmt.Errorf("%w: host port %d/%s published by both %q and %q", ErrInvalidConfig, p.HostPort, p.Protocol, other, name))
				continue
			}
			if hostPorts[key] == nil {
				hostPorts[key] = map[string]string{}
			}
			hostPorts[key][ip] = name
		}

		seenTargets := map[string]struct{}{}
		for _, v := range svc.Volumes {
			if _, ok := seenTargets[v.ContainerPath]; ok {
				errs = append(errs, fmt.Errorf("%w: service %q mounts %q twice", ErrInvalidConfig, name, v.ContainerPath))
			}
			seenTargets[v.ContainerPath] = struct{}{}
		}

		if svc.Readiness != nil {
			if (svc.Readiness.TCP == "") == (svc.Readiness.HTTP == "") {
				errs = append(errs, fmt.Errorf("%w: service %q readiness needs exactly one of tcp or http", ErrInvalidConfig, name))
			}
		}
		if svc.Backoff.Enabled() && svc.Backoff.Max > 0 && svc.Backoff.Max < svc.Backoff.Initial {
			errs = append(errs, fmt.Errorf("%w: service %q backoff max is below initial", ErrInvalidConfig, name))
		}

		for _, dep := range svc.DependsOn {
			if dep == name {
				errs = append(errs, fmt.Errorf("%w: service %q depends on itself", ErrDependencyCycle, name))
			}
		}
		if svc.WaitFor == WaitReady {
			for _, dep := range svc.DependsOn {
				if d, ok := st.Services[dep]; ok && d.Readiness == nil {
					errs = append(errs, fmt.Errorf("%w: service %q waits for %q to be ready, but %q has no readiness probe", ErrInvalidConfig, name, dep, dep))
				}
			}
		}
	}

	if len(errs) == 0 {
		if _, err := StartOrder(st); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// bindIP normalizes the host side of a port binding. An empty IP binds every
// interface, like 0.0.0.0 and ::.
func bindIP(ip string) string {
	switch ip {
	case "", "0.0.0.0", "::":
		return ""
	}
	return ip
}

// conflictingBinding reports the service already bound to the same IP, or to
// any IP when either side is the wildcard.
func conflictingBinding(bound map[string]string, ip string) (string, bool) {
	if other, ok := bound[ip]; ok {
		return other, true
	}
	if ip == "" {
		if len(bound) == 0 {
			return "", false
		}
		return bound[sortedKeys(bound)[0]], true
	}
	other, ok := bound[""]
	return other, ok
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
