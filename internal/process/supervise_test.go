//go:build unix

package process

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

func readLines(t *testing.T, path string, want int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			t.Fatal(err)
		}
		var lines []string
		if text := strings.TrimSpace(string(b)); text != "" {
			lines = strings.Split(text, "\n")
		}
		if len(lines) >= want {
			return lines
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d lines in %s, got %q", want, path, b)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func pid(t *testing.T, r *Runtime, name string) int {
	t.Helper()
	st, err := r.Inspect(context.Background(), name)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	n, err := strconv.Atoi(st.ID)
	if err != nil {
		t.Fatalf("%s has no pid: %+v", name, st)
	}
	return n
}

func TestSupervisor_KilledBackendRestartsWithItsData(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	data := filepath.Join(t.TempDir(), "data")
	runs := filepath.Join(data, "runs.log")
	st := &topology.Stack{
		Name: "dash",
		Services: map[string]topology.Service{
			"backend": {
				Name:        "backend",
				Command:     []string{"sh", "-c", `echo "run $$" >> "$DATA_DIR/runs.log"; exec sleep 30`},
				Environment: map[string]string{"DATA_DIR": data},
				Volumes:     []topology.VolumeMount{{HostPath: data, ContainerPath: "/app/data"}},
				Restart:     topology.RestartUnlessStopped,
			},
			"frontend": {
				Name:      "frontend",
				Command:   []string{"sh", "-c", "exec sleep 30"},
				Restart:   topology.RestartUnlessStopped,
				DependsOn: []string{"backend"},
			},
		},
	}

	sup, err := supervisor.New(st, r, supervisor.Options{Logger: zaptest.NewLogger(t).Sugar()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}

	first := readLines(t, runs, 1)[0]
	backendPID := pid(t, r, "backend")
	frontendPID := pid(t, r, "frontend")

	if err := syscall.Kill(-backendPID, syscall.SIGKILL); err != nil {
		t.Fatalf("kill backend: %v", err)
	}
	waitFor(t, r, "backend", topology.StateExited)
	sup.Reconcile(ctx)

	lines := readLines(t, runs, 2)
	if lines[0] != first {
		t.Fatalf("data written before the crash was lost: %q", lines)
	}
	if got := pid(t, r, "backend"); got == backendPID {
		t.Fatal("expected a new backend process")
	}
	if got := pid(t, r, "frontend"); got != frontendPID {
		t.Fatalf("frontend was touched: pid %d -> %d", frontendPID, got)
	}

	ss, err := sup.Service(ctx, "backend")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if ss.State != topology.StateRunning || ss.Restarts != 1 {
		t.Fatalf("unexpected status %+v", ss)
	}
}
