package topology

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Finding is a cross-service wiring problem found by CheckEndpoints.
type Finding struct {
	Service  string
	Variable string
	Value    string
	Problem  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s=%s: %s", f.Service, f.Variable, f.Value, f.Problem)
}

// CheckEndpoints looks for environment values that point at a local URL
// (http://localhost:8000 and friends) and checks that some service in the
// stack publishes that host port, and that the referring service starts after
// it.
func CheckEndpoints(st *Stack) []Finding {
	published := map[int]string{}
	for _, name := range st.Names() {
		for _, p := range st.Services[name].Ports {
			if p.Protocol == "tcp" {
				published[p.HostPort] = name
			}
		}
	}

	var findings []Finding
	for _, name := range st.Names() {
		svc := st.Services[name]
		for _, kv := range svc.EnvList() {
			key, value, _ := strings.Cut(kv, "=")
			port, ok := localURLPort(value)
			if !ok {
				continue
			}

			target, ok := published[port]
			switch {
			case !ok:
				findings = append(findings, Finding{
					Service: name, Variable: key, Value: value,
					Problem: fmt.Sprintf("no service publishes host port %d", port),
				})
			case target == name:
			case !dependsOn(st, name, target):
				findings = append(findings, Finding{
					Service: name, Variable: key, Value: value,
					Problem: fmt.Sprintf("points at %q but does not depend on it", target),
				})
			}
		}
	}
	return findings
}

func localURLPort(value string) (int, bool) {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return 0, false
	}

	switch u.Hostname() {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
	default:
		return 0, false
	}

	portStr := u.Port()
	if portStr == "" {
		if u.Scheme == "https" {
			return 443, true
		}
		return 80, true
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, false
	}
	return port, true
}

// dependsOn follows depends_on transitively.
func dependsOn(st *Stack, from, target string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, dep := range st.Services[cur].DependsOn {
			if dep == target {
				return true
			}
			stack = append(stack, dep)
		}
	}
	return false
}

// Address returns the dial address of a tcp probe, or the host:port of
// an http probe.
func (p Probe) Address() string {
	if p.TCP != "" {
		return p.TCP
	}
	u, err := url.Parse(p.HTTP)
	if err != nil {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
