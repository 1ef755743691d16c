package topology

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func twoServiceStack() *Stack {
	return &Stack{
		Name: "dash",
		Services: map[string]Service{
			"backend": {
				Name:    "backend",
				Build:   &Build{Context: "./backend"},
				Ports:   []PortMapping{{HostPort: 8000, ContainerPort: 8000, Protocol: "tcp"}},
				Restart: RestartUnlessStopped,
				Environment: map[string]string{
					"PYTHONUNBUFFERED": "1",
				},
				Volumes:   []VolumeMount{{HostPath: "/srv/dash/data", ContainerPath: "/app/data"}},
				Readiness: &Probe{TCP: "localhost:8000"},
			},
			"frontend": {
				Name:    "frontend",
				Build:   &Build{Context: "./frontend"},
				Ports:   []PortMapping{{HostPort: 3000, ContainerPort: 3000, Protocol: "tcp"}},
				Restart: RestartUnlessStopped,
				Environment: map[string]string{
					"NEXT_PUBLIC_API_URL": "http://localhost:8000",
				},
				DependsOn: []string{"backend"},
				WaitFor:   WaitStarted,
			},
		},
	}
}

func TestStartOrder_BackendBeforeFrontend(t *testing.T) {
	order, err := StartOrder(twoServiceStack())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"backend", "frontend"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("expected %v, got %v", want, order)
	}

	stop, err := StopOrder(twoServiceStack())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(stop, []string{"frontend", "backend"}) {
		t.Fatalf("unexpected stop order %v", stop)
	}
}

func TestStartOrder_StableForIndependentServices(t *testing.T) {
	st := &Stack{Name: "p", Services: map[string]Service{
		"c": {Name: "c", Image: "c"},
		"a": {Name: "a", Image: "a", DependsOn: []string{"c"}},
		"b": {Name: "b", Image: "b"},
	}}
	for i := 0; i < 10; i++ {
		order, err := StartOrder(st)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(order, []string{"c", "a", "b"}) {
			t.Fatalf("unexpected order %v", order)
		}
	}
}

func TestStartOrder_Cycle(t *testing.T) {
	st := &Stack{Name: "p", Services: map[string]Service{
		"a": {Name: "a", Image: "a", DependsOn: []string{"b"}},
		"b": {Name: "b", Image: "b", DependsOn: []string{"a"}},
	}}
	_, err := StartOrder(st)
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if !strings.Contains(err.Error(), `"a" -> "b" -> "a"`) {
		t.Fatalf("expected cycle path in error, got %v", err)
	}
}

func TestStartOrder_UnknownDependency(t *testing.T) {
	st := &Stack{Name: "p", Services: map[string]Service{
		"a": {Name: "a", Image: "a", DependsOn: []string{"ghost"}},
	}}
	_, err := StartOrder(st)
	if !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected unknown service error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(twoServiceStack()); err != nil {
		t.Fatalf("expected valid stack, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Stack)
		want   error
	}{
		{
			name:   "missing project name",
			mutate: func(s *Stack) { s.Name = "" },
			want:   ErrInvalidConfig,
		},
		{
			name: "duplicate host port",
			mutate: func(s *Stack) {
				fe := s.Services["frontend"]
				fe.Ports = []PortMapping{{HostPort: 8000, ContainerPort: 3000, Protocol: "tcp"}}
				s.Services["frontend"] = fe
			},
			want: ErrInvalidConfig,
		},
		{
			name: "wildcard spelled two ways",
			mutate: func(s *Stack) {
				fe := s.Services["frontend"]
				fe.Ports = []PortMapping{{HostIP: "0.0.0.0", HostPort: 8000, ContainerPort: 9000, Protocol: "tcp"}}
				s.Services["frontend"] = fe
			},
			want: ErrInvalidConfig,
		},
		{
			name: "specific ip under a wildcard binding",
			mutate: func(s *Stack) {
				fe := s.Services["frontend"]
				fe.Ports = []PortMapping{{HostIP: "127.0.0.1", HostPort: 8000, ContainerPort: 3000, Protocol: "tcp"}}
				s.Services["frontend"] = fe
			},
			want: ErrInvalidConfig,
		},
		{
			name: "wildcard over a specific ip binding",
			mutate: func(s *Stack) {
				be := s.Services["backend"]
				be.Ports = []PortMapping{{HostIP: "127.0.0.1", HostPort: 8000, ContainerPort: 8000, Protocol: "tcp"}}
				s.Services["backend"] = be
				fe := s.Services["frontend"]
				fe.Ports = []PortMapping{{HostPort: 8000, ContainerPort: 3000, Protocol: "tcp"}}
				s.Services["frontend"] = fe
			},
			want: ErrInvalidConfig,
		},
		{
			name: "nothing to run",
			mutate: func(s *Stack) {
				be := s.Services["backend"]
				be.Build = nil
				s.Services["backend"] = be
			},
			want: ErrInvalidConfig,
		},
		{
			name: "self dependency",
			mutate: func(s *Stack) {
				be := s.Services["backend"]
				be.DependsOn = []string{"backend"}
				s.Services["backend"] = be
			},
			want: ErrDependencyCycle,
		},
		{
			name: "wait for ready without probe",
			mutate: func(s *Stack) {
				be := s.Services["backend"]
				be.Readiness = nil
				s.Services["backend"] = be
				fe := s.Services["frontend"]
				fe.WaitFor = WaitReady
				s.Services["frontend"] = fe
			},
			want: ErrInvalidConfig,
		},
		{
			name: "probe with both tcp and http",
			mutate: func(s *Stack) {
				be := s.Services["backend"]
				be.Readiness = &Probe{TCP: "localhost:8000", HTTP: "http://localhost:8000"}
				s.Services["backend"] = be
			},
			want: ErrInvalidConfig,
		},
		{
			name: "unknown dependency",
			mutate: func(s *Stack) {
				fe := s.Services["frontend"]
				fe.DependsOn = []string{"api"}
				s.Services["frontend"] = fe
			},
			want: ErrUnknownService,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := twoServiceStack()
			tt.mutate(st)
			err := Validate(st)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_DistinctBindingsShareAPort(t *testing.T) {
	st := twoServiceStack()
	be := st.Services["backend"]
	be.Ports = []PortMapping{
		{HostIP: "127.0.0.1", HostPort: 8000, ContainerPort: 8000, Protocol: "tcp"},
		{HostIP: "0.0.0.0", HostPort: 5353, ContainerPort: 5353, Protocol: "udp"},
	}
	st.Services["backend"] = be
	fe := st.Services["frontend"]
	fe.Ports = []PortMapping{
		{HostIP: "192.168.1.10", HostPort: 8000, ContainerPort: 3000, Protocol: "tcp"},
		{HostPort: 5353, ContainerPort: 5353, Protocol: "tcp"},
	}
	st.Services["frontend"] = fe

	if err := Validate(st); err != nil {
		t.Fatalf("expected different IPs and protocols to coexist, got %v", err)
	}
}

func TestDependentsAndReadiness(t *testing.T) {
	st := twoServiceStack()
	if got := st.Dependents("backend"); !reflect.DeepEqual(got, []string{"frontend"}) {
		t.Fatalf("unexpected dependents %v", got)
	}
	if st.NeedsReadiness("backend") {
		t.Fatal("frontend only waits for start")
	}

	fe := st.Services["frontend"]
	fe.WaitFor = WaitReady
	st.Services["frontend"] = fe
	if !st.NeedsReadiness("backend") {
		t.Fatal("expected readiness to be needed")
	}
}
