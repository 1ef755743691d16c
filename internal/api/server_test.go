package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

type fakeController struct {
	mu       sync.Mutex
	services map[string]*supervisor.ServiceStatus
	calls    []string
	failWith error
}

func newFakeController() *fakeController {
	return &fakeController{services: map[string]*supervisor.ServiceStatus{
		"backend":  {Name: "backend", State: topology.StateRunning, Desired: topology.DesiredRunning, Ports: []string{"8000:8000/tcp"}},
		"frontend": {Name: "frontend", State: topology.StateRunning, Desired: topology.DesiredRunning},
	}}
}

func (f *fakeController) Status(ctx context.Context) ([]supervisor.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []supervisor.ServiceStatus{*f.services["backend"], *f.services["frontend"]}, nil
}

func (f *fakeController) Service(_ context.Context, name string) (supervisor.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.services[name]
	if !ok {
		return supervisor.ServiceStatus{}, fmt.Errorf("%w: %q", topology.ErrUnknownService, name)
	}
	return *st, nil
}

func (f *fakeController) set(name string, state topology.State, desired topology.Desired) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	st, ok := f.services[name]
	if !ok {
		return fmt.Errorf("%w: %q", topology.ErrUnknownService, name)
	}
	f.calls = append(f.calls, string(desired)+":"+name)
	st.State = state
	st.Desired = desired
	return nil
}

func (f *fakeController) Start(_ context.Context, name string) error {
	return f.set(name, topology.StateRunning, topology.DesiredRunning)
}

func (f *fakeController) Stop(_ context.Context, name string) error {
	return f.set(name, topology.StateStopped, topology.DesiredStopped)
}

func (f *fakeController) Restart(_ context.Context, name string) error {
	return f.set(name, topology.StateRunning, topology.DesiredRunning)
}

func newTestServer(t *testing.T, ctl Controller) *Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(ctl, zaptest.NewLogger(t).Sugar()).Routes())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestClient_ListAndGet(t *testing.T) {
	c := newTestServer(t, newFakeController())
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	all, err := c.Services(ctx)
	if err != nil {
		t.Fatalf("Services: %v", err)
	}
	if len(all) != 2 || all[0].Name != "backend" {
		t.Fatalf("unexpected services %+v", all)
	}

	be, err := c.Service(ctx, "backend")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if be.State != topology.StateRunning || len(be.Ports) != 1 {
		t.Fatalf("unexpected backend %+v", be)
	}
}

func TestClient_Actions(t *testing.T) {
	ctl := newFakeController()
	c := newTestServer(t, ctl)
	ctx := context.Background()

	st, err := c.Stop(ctx, "backend")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st.State != topology.StateStopped || st.Desired != topology.DesiredStopped {
		t.Fatalf("unexpected status after stop %+v", st)
	}

	st, err = c.Start(ctx, "backend")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.State != topology.StateRunning {
		t.Fatalf("unexpected status after start %+v", st)
	}

	if _, err := c.Restart(ctx, "frontend"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	want := []string{"stopped:backend", "running:backend", "running:frontend"}
	if fmt.Sprint(ctl.calls) != fmt.Sprint(want) {
		t.Fatalf("expected calls %v, got %v", want, ctl.calls)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		failWith   error
		service    string
		wantStatus int
		wantErr    error
	}{
		{"unknown service", nil, "db", http.StatusNotFound, topology.ErrUnknownService},
		{"invalid transition", fmt.Errorf("service %q: %w", "backend", topology.ErrInvalidTransition), "backend", http.StatusConflict, topology.ErrInvalidTransition},
		{"internal", errors.New("daemon unreachable"), "backend", http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := newFakeController()
			ctl.failWith = tt.failWith
			c := newTestServer(t, ctl)

			_, err := c.Stop(context.Background(), tt.service)
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if apiErr.Status != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, apiErr.Status)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v to unwrap to %v", err, tt.wantErr)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	h := NewServer(newFakeController(), nil).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestNewClient_Address(t *testing.T) {
	if c := NewClient("127.0.0.1:8700"); c.base != "http://127.0.0.1:8700" {
		t.Fatalf("unexpected base %q", c.base)
	}
	if c := NewClient("http://localhost:9000"); c.base != "http://localhost:9000" {
		t.Fatalf("unexpected base %q", c.base)
	}
}
