package topology

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestCheckEndpoints_DefaultTopologyIsClean(t *testing.T) {
	if f := CheckEndpoints(twoServiceStack()); len(f) != 0 {
		t.Fatalf("expected no findings, got %v", f)
	}
}

func TestCheckEndpoints_WrongPort(t *testing.T) {
	st := twoServiceStack()
	fe := st.Services["frontend"]
	fe.Environment = map[string]string{"NEXT_PUBLIC_API_URL": "http://localhost:8001"}
	st.Services["frontend"] = fe

	f := CheckEndpoints(st)
	if len(f) != 1 || !strings.Contains(f[0].Problem, "8001") {
		t.Fatalf("expected one finding about port 8001, got %v", f)
	}
	if f[0].Service != "frontend" || f[0].Variable != "NEXT_PUBLIC_API_URL" {
		t.Fatalf("unexpected finding %+v", f[0])
	}
}

func TestCheckEndpoints_MissingDependency(t *testing.T) {
	st := twoServiceStack()
	fe := st.Services["frontend"]
	fe.DependsOn = nil
	st.Services["frontend"] = fe

	f := CheckEndpoints(st)
	if len(f) != 1 || !strings.Contains(f[0].Problem, "does not depend") {
		t.Fatalf("expected missing dependency finding, got %v", f)
	}
}

func TestCheckEndpoints_IgnoresRemoteURLs(t *testing.T) {
	st := twoServiceStack()
	fe := st.Services["frontend"]
	fe.Environment = map[string]string{"SENTRY": "https://sentry.example.com", "MODE": "prod"}
	st.Services["frontend"] = fe

	if f := CheckEndpoints(st); len(f) != 0 {
		t.Fatalf("expected no findings, got %v", f)
	}
}

func TestProbeAddress(t *testing.T) {
	tests := []struct {
		probe Probe
		want  string
	}{
		{Probe{TCP: "localhost:8000"}, "localhost:8000"},
		{Probe{HTTP: "http://localhost:8000/health"}, "localhost:8000"},
		{Probe{HTTP: "http://localhost/health"}, "localhost:80"},
		{Probe{HTTP: "https://localhost/health"}, "localhost:443"},
	}
	for _, tt := range tests {
		if got := tt.probe.Address(); got != tt.want {
			t.Errorf("%+v: expected %s, got %s", tt.probe, tt.want, got)
		}
	}
}

func TestSelect(t *testing.T) {
	st := twoServiceStack()

	all, err := Select(st, nil)
	if err != nil || !reflect.DeepEqual(all, []string{"backend", "frontend"}) {
		t.Fatalf("unexpected selection %v, %v", all, err)
	}

	front, err := Select(st, []string{"front*"})
	if err != nil || !reflect.DeepEqual(front, []string{"frontend"}) {
		t.Fatalf("unexpected selection %v, %v", front, err)
	}

	both, err := Select(st, []string{"frontend", "*end"})
	if err != nil || !reflect.DeepEqual(both, []string{"backend", "frontend"}) {
		t.Fatalf("unexpected selection %v, %v", both, err)
	}

	if _, err := Select(st, []string{"db"}); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected unknown service, got %v", err)
	}
	if _, err := Select(st, []string{"[a"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid pattern error, got %v", err)
	}
}
