package topology

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownService    = errors.New("unknown service")
	ErrDependencyCycle   = errors.New("circular dependency")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// RestartPolicy governs automatic relaunch of a service after it exits.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// ParseRestartPolicy maps the config string onto a policy. Empty means "no".
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch p := RestartPolicy(s); p {
	case "":
		return RestartNo, nil
	case RestartNo, RestartAlways, RestartOnFailure, RestartUnlessStopped:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown restart policy %q", ErrInvalidConfig, s)
	}
}

// ShouldRestart reports whether an instance that exited with exitCode is
// relaunched. An explicit stop always wins.
func (p RestartPolicy) ShouldRestart(exitCode int, explicitlyStopped bool) bool {
	if explicitlyStopped {
		return false
	}
	switch p {
	case RestartAlways, RestartUnlessStopped:
		return true
	case RestartOnFailure:
		return exitCode != 0
	default:
		return false
	}
}

// StartOnBoot reports whether the service is brought up when the orchestrator
// itself starts. "always" ignores a previous explicit stop, the other
// policies keep it.
func (p RestartPolicy) StartOnBoot(explicitlyStopped bool) bool {
	if !explicitlyStopped {
		return true
	}
	return p == RestartAlways
}

// WaitCondition is what a dependent waits for before it is started.
type WaitCondition string

const (
	WaitStarted WaitCondition = "started"
	WaitReady   WaitCondition = "ready"
)

func ParseWaitCondition(s string) (WaitCondition, error) {
	switch c := WaitCondition(s); c {
	case "":
		return WaitStarted, nil
	case WaitStarted, WaitReady:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown wait_for condition %q", ErrInvalidConfig, s)
	}
}

// Probe checks whether a service accepts connections. Exactly one of TCP or
// HTTP is set.
type Probe struct {
	TCP      string
	HTTP     string
	Interval time.Duration
	Timeout  time.Duration
}

// Backoff is an optional bounded exponential delay between restarts. The zero
// value restarts immediately.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	ResetAfter time.Duration
}

func (b Backoff) Enabled() bool { return b.Initial > 0 }

// Build describes how to produce a service image from source.
type Build struct {
	Context    string
	Dockerfile string
	Args       map[string]string
}

// VolumeMount binds a host directory to a path inside the service.
type VolumeMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Bind renders the mount in docker "host:container[:ro]" form.
func (v VolumeMount) Bind() string {
	s := v.HostPath + ":" + v.ContainerPath
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostIP        string
	HostPort      int
	ContainerPort int
	Protocol      string
}

func (p PortMapping) String() string {
	if p.HostIP != "" {
		return fmt.Sprintf("%s:%d:%d/%s", p.HostIP, p.HostPort, p.ContainerPort, p.Protocol)
	}
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, p.Protocol)
}

// Service is one deployable unit of the stack.
type Service struct {
	Name        string
	Image       string
	Build       *Build
	Command     []string
	Ports       []PortMapping
	Environment map[string]string
	Volumes     []VolumeMount
	Restart     RestartPolicy
	DependsOn   []string
	WaitFor     WaitCondition
	Readiness   *Probe
	Backoff     Backoff
}

// EnvList returns the environment as sorted KEY=VALUE pairs.
func (s Service) EnvList() []string {
	keys := make([]string, 0, len(s.Environment))
	for k := range s.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Environment[k])
	}
	return out
}

// Stack is the full set of services of one project. It is loaded once at
// startup and treated as immutable afterwards.
type Stack struct {
	Name     string
	Version  string
	Network  string
	BaseDir  string
	Services map[string]Service
}

// Names returns the service names in lexical order.
func (s *Stack) Names() []string {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Service looks up a service by name.
func (s *Stack) Service(name string) (Service, error) {
	svc, ok := s.Services[name]
	if !ok {
		return Service{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return svc, nil
}

// Dependents returns the services that list name in depends_on, sorted.
func (s *Stack) Dependents(name string) []string {
	var out []string
	for _, n := range s.Names() {
		for _, dep := range s.Services[n].DependsOn {
			if dep == name {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// NeedsReadiness reports whether any dependent of name waits for it to be
// ready rather than merely started.
func (s *Stack) NeedsReadiness(name string) bool {
	for _, n := range s.Dependents(name) {
		if s.Services[n].WaitFor == WaitReady {
			return true
		}
	}
	return false
}
