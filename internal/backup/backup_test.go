package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key string, body io.Reader) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memStore) Get(_ context.Context, key string, w io.WriterAt) error {
	m.mu.Lock()
	b, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such key %s", key)
	}
	_, err := w.WriteAt(b, 0)
	return err
}

func (m *memStore) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for k, b := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Object{Key: k, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type fakeInspector struct{ state topology.State }

func (f fakeInspector) Inspect(context.Context, string) (supervisor.Status, error) {
	if f.state == "" {
		return supervisor.Status{}, nil
	}
	return supervisor.Status{Exists: true, State: f.state}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func backendService(dataDir string) topology.Service {
	return topology.Service{
		Name:    "backend",
		Volumes: []topology.VolumeMount{{HostPath: dataDir, ContainerPath: "/app/data"}},
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	data := filepath.Join(t.TempDir(), "data")
	writeFile(t, filepath.Join(data, "app.db"), "v1")
	writeFile(t, filepath.Join(data, "uploads", "a.png"), "png")

	store := newMemStore()
	clock := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	svc := New(store, fakeInspector{state: topology.StateExited}, Options{
		Project: "dash",
		Prefix:  "keel",
		Logger:  zaptest.NewLogger(t).Sugar(),
		Now:     func() time.Time { return clock },
	})
	ctx := context.Background()

	snap, err := svc.Backup(ctx, backendService(data))
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if snap.ID != "20240601T093000Z" {
		t.Fatalf("unexpected snapshot id %s", snap.ID)
	}
	if want := "keel/dash/backend/20240601T093000Z/0.tar.gz"; len(snap.Keys) != 1 || snap.Keys[0] != want {
		t.Fatalf("expected key %s, got %v", want, snap.Keys)
	}

	// Diverge from the snapshot.
	writeFile(t, filepath.Join(data, "app.db"), "v2")
	writeFile(t, filepath.Join(data, "stray.tmp"), "x")

	if _, err := svc.Restore(ctx, backendService(data), ""); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := readFile(t, filepath.Join(data, "app.db")); got != "v1" {
		t.Fatalf("expected restored content v1, got %q", got)
	}
	if got := readFile(t, filepath.Join(data, "uploads", "a.png")); got != "png" {
		t.Fatalf("nested file not restored, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(data, "stray.tmp")); !os.IsNotExist(err) {
		t.Fatal("files not in the snapshot should be gone")
	}
	if _, err := os.Stat(data + ".keel-old"); !os.IsNotExist(err) {
		t.Fatal("old directory left behind")
	}
}

func TestRestore_RefusesRunningService(t *testing.T) {
	data := t.TempDir()
	svc := New(newMemStore(), fakeInspector{state: topology.StateRunning}, Options{Project: "dash"})

	_, err := svc.Restore(context.Background(), backendService(data), "")
	if !errors.Is(err, ErrServiceRunning) {
		t.Fatalf("expected ErrServiceRunning, got %v", err)
	}
}

func TestRestore_NoSnapshot(t *testing.T) {
	svc := New(newMemStore(), fakeInspector{}, Options{Project: "dash"})
	_, err := svc.Restore(context.Background(), backendService(t.TempDir()), "")
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestList_GroupsAndSorts(t *testing.T) {
	store := newMemStore()
	store.objects["keel/dash/backend/20240102T000000Z/0.tar.gz"] = []byte("bb")
	store.objects["keel/dash/backend/20240101T000000Z/0.tar.gz"] = []byte("a")
	store.objects["keel/dash/backend/20240101T000000Z/1.tar.gz"] = []byte("aa")
	store.objects["keel/dash/backend/not-a-snapshot.txt"] = []byte("?")
	store.objects["keel/dash/frontend/20240101T000000Z/0.tar.gz"] = []byte("f")

	svc := New(store, fakeInspector{}, Options{Project: "dash", Prefix: "keel"})
	snaps, err := svc.List(context.Background(), "backend")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %+v", snaps)
	}
	if snaps[0].ID != "20240101T000000Z" || len(snaps[0].Keys) != 2 || snaps[0].Size != 3 {
		t.Fatalf("unexpected first snapshot %+v", snaps[0])
	}
	if snaps[1].ID != "20240102T000000Z" {
		t.Fatalf("unexpected order %+v", snaps)
	}

	if _, err := pick(snaps, "20991231T000000Z"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot for unknown id, got %v", err)
	}
}

func TestBackup_NoVolumes(t *testing.T) {
	svc := New(newMemStore(), fakeInspector{}, Options{Project: "dash"})
	_, err := svc.Backup(context.Background(), topology.Service{Name: "frontend"})
	if !errors.Is(err, ErrNoVolumes) {
		t.Fatalf("expected ErrNoVolumes, got %v", err)
	}
}
