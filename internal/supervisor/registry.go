package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sarth-shah20/keel/internal/topology"
)

// RegistryFile is the registry's file name inside the state directory.
const RegistryFile = "registry.json"

// Record is the persisted view of one service.
type Record struct {
	Desired   topology.Desired `json:"desired"`
	Restarts  int              `json:"restarts"`
	StartedAt time.Time        `json:"started_at,omitempty"`
	StoppedAt time.Time        `json:"stopped_at,omitempty"`
}

// Registry is the orchestrator's service registry: which services exist and
// what the operator wants them to be. It outlives supervisor processes so an
// explicit stop survives a host restart. Not safe for concurrent use; the
// Supervisor serializes access.
type Registry struct {
	Project  string             `json:"project"`
	RunID    string             `json:"run_id,omitempty"`
	Services map[string]*Record `json:"services"`

	path string
}

// LoadRegistry reads the registry at path. A missing file yields an empty
// registry.
func LoadRegistry(path string) (*Registry, error) {
	reg := &Registry{Services: map[string]*Record{}, path: path}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	if err := json.Unmarshal(b, reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if reg.Services == nil {
		reg.Services = map[string]*Record{}
	}
	return reg, nil
}

// Record returns the entry for name, creating a desired-running one.
func (r *Registry) Record(name string) *Record {
	rec, ok := r.Services[name]
	if !ok {
		rec = &Record{Desired: topology.DesiredRunning}
		r.Services[name] = rec
	}
	return rec
}

// Stopped reports whether name was explicitly stopped.
func (r *Registry) Stopped(name string) bool {
	rec, ok := r.Services[name]
	return ok && rec.Desired == topology.DesiredStopped
}

// Reset forgets every service, as after a full teardown.
func (r *Registry) Reset() {
	r.Services = map[string]*Record{}
}

// Save writes the registry atomically. A registry without a path (tests,
// one-shot commands) is kept in memory only.
func (r *Registry) Save() error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
