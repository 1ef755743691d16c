// Package backup snapshots the host directories behind service volumes to
// object storage and restores them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/pkg/archive"
	"go.uber.org/zap"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

var (
	ErrServiceRunning = errors.New("service is running")
	ErrNoSnapshot     = errors.New("no snapshot found")
	ErrNoVolumes      = errors.New("service has no volumes")
)

// SnapshotLayout formats snapshot ids. Ids sort chronologically.
const SnapshotLayout = "20060102T150405Z"

// Inspector reports whether a service instance is running.
type Inspector interface {
	Inspect(ctx context.Context, name string) (supervisor.Status, error)
}

// Snapshot is one backup of all volumes of a service.
type Snapshot struct {
	Service string
	ID      string
	Keys    []string
	Size    int64
	Created time.Time
}

type Options struct {
	Project string
	Prefix  string
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

type Service struct {
	store     ObjectStore
	inspector Inspector
	project   string
	prefix    string
	log       *zap.SugaredLogger
	now       func() time.Time
}

func New(store ObjectStore, inspector Inspector, opts Options) *Service {
	s := &Service{
		store:     store,
		inspector: inspector,
		project:   opts.Project,
		prefix:    opts.Prefix,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) servicePrefix(name string) string {
	return path.Join(s.prefix, s.project, name) + "/"
}

func (s *Service) volumeKey(service, id string, index int) string {
	return s.servicePrefix(service) + id + "/" + fmt.Sprintf("%d.tar.gz", index)
}

// Backup uploads one gzip tar per volume of svc.
func (s *Service) Backup(ctx context.Context, svc topology.Service) (Snapshot, error) {
	if len(svc.Volumes) == 0 {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrNoVolumes, svc.Name)
	}

	if st, err := s.inspector.Inspect(ctx, svc.Name); err == nil && st.Exists && st.State.Live() {
		s.log.Warnw("backing up a running service, files being written may be inconsistent", "service", svc.Name)
	}

	created := s.now().UTC()
	snap := Snapshot{Service: svc.Name, ID: created.Format(SnapshotLayout), Created: created}

	for i, v := range svc.Volumes {
		if _, err := os.Stat(v.HostPath); err != nil {
			return snap, fmt.Errorf("volume %s: %w", v.HostPath, err)
		}

		key := s.volumeKey(svc.Name, snap.ID, i)
		s.log.Infow("uploading volume", "service", svc.Name, "path", v.HostPath, "key", key)

		rc, err := archive.TarWithOptions(v.HostPath, &archive.TarOptions{Compression: archive.Gzip})
		if err != nil {
			return snap, fmt.Errorf("archive %s: %w", v.HostPath, err)
		}
		err = s.store.Put(ctx, key, rc)
		rc.Close()
		if err != nil {
			return snap, err
		}
		snap.Keys = append(snap.Keys, key)
	}
	return snap, nil
}

// List returns the snapshots of a service, oldest first.
func (s *Service) List(ctx context.Context, service string) ([]Snapshot, error) {
	prefix := s.servicePrefix(service)
	objects, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	byID := map[string]*Snapshot{}
	for _, obj := range objects {
		id, _, ok := strings.Cut(strings.TrimPrefix(obj.Key, prefix), "/")
		if !ok {
			continue
		}
		created, err := time.Parse(SnapshotLayout, id)
		if err != nil {
			continue
		}
		snap, ok := byID[id]
		if !ok {
			snap = &Snapshot{Service: service, ID: id, Created: created}
			byID[id] = snap
		}
		snap.Keys = append(snap.Keys, obj.Key)
		snap.Size += obj.Size
	}

	out := make([]Snapshot, 0, len(byID))
	for _, snap := range byID {
		sort.Strings(snap.Keys)
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Restore replaces the volume directories of svc with the snapshot id, or
// the latest snapshot when id is empty. The service must not be running.
func (s *Service) Restore(ctx context.Context, svc topology.Service, id string) (Snapshot, error) {
	st, err := s.inspector.Inspect(ctx, svc.Name)
	if err != nil {
		return Snapshot{}, err
	}
	if st.Exists && st.State.Live() {
		return Snapshot{}, fmt.Errorf("%w: stop %q before restoring", ErrServiceRunning, svc.Name)
	}

	snaps, err := s.List(ctx, svc.Name)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := pick(snaps, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w for %q", err, svc.Name)
	}

	have := map[string]bool{}
	for _, k := range snap.Keys {
		have[k] = true
	}
	for i, v := range svc.Volumes {
		key := s.volumeKey(svc.Name, snap.ID, i)
		if !have[key] {
			return snap, fmt.Errorf("%w: snapshot %s has no archive for %s", ErrNoSnapshot, snap.ID, v.HostPath)
		}
		s.log.Infow("restoring volume", "service", svc.Name, "path", v.HostPath, "key", key)
		if err := s.restoreVolume(ctx, key, v.HostPath); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func pick(snaps []Snapshot, id string) (Snapshot, error) {
	if len(snaps) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	if id == "" {
		return snaps[len(snaps)-1], nil
	}
	for _, snap := range snaps {
		if snap.ID == id {
			return snap, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrNoSnapshot, id)
}

// restoreVolume extracts next to dest and swaps the directories, so a failed
// download never leaves dest half-written.
func (s *Service) restoreVolume(ctx context.Context, key, dest string) error {
	tmp, err := os.CreateTemp("", "keel-restore-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := s.store.Get(ctx, key, tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dest)+".restore-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if err := archive.Untar(tmp, staging, &archive.TarOptions{NoLchown: true}); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("extract %s: %w", key, err)
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		os.RemoveAll(staging)
		return err
	}

	old := dest + ".keel-old"
	if err := os.RemoveAll(old); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.Rename(dest, old); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.RemoveAll(staging)
		return fmt.Errorf("move aside %s: %w", dest, err)
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.Rename(old, dest)
		os.RemoveAll(staging)
		return fmt.Errorf("replace %s: %w", dest, err)
	}
	return os.RemoveAll(old)
}
