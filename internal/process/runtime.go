// Package process runs services as local child processes. It is meant for
// hosts without a container engine and for development; the supervisor
// applies restart policies since nothing else will.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

var ErrNoCommand = errors.New("service has no command")

type Options struct {
	// Dir is the working directory of services without a build context.
	Dir         string
	LogDir      string
	StopTimeout time.Duration
	Logger      *zap.SugaredLogger
}

type proc struct {
	cmd       *exec.Cmd
	done      chan struct{}
	exitCode  int
	startedAt time.Time
}

func (p *proc) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Runtime is a supervisor.Runtime backed by os/exec.
type Runtime struct {
	opts Options

	mu    sync.Mutex
	procs map[string]*proc
}

var _ supervisor.Runtime = (*Runtime)(nil)

func NewRuntime(opts Options) *Runtime {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Runtime{opts: opts, procs: map[string]*proc{}}
}

// LogPath is where the output of a service is appended.
func (r *Runtime) LogPath(name string) string {
	return filepath.Join(r.opts.LogDir, name+".log")
}

// Prepare checks that the service can run as a plain process and creates its
// volume and log directories.
func (r *Runtime) Prepare(_ context.Context, svc topology.Service) error {
	if len(svc.Command) == 0 {
		return fmt.Errorf("%w: %q needs a command to run without containers", ErrNoCommand, svc.Name)
	}
	// Without a network namespace there is nothing to remap ports with.
	for _, p := range svc.Ports {
		if p.HostPort != p.ContainerPort {
			return fmt.Errorf("%w: service %q publishes %s, host and container port must match for processes",
				topology.ErrInvalidConfig, svc.Name, p)
		}
	}
	for _, v := range svc.Volumes {
		if err := os.MkdirAll(v.HostPath, 0o755); err != nil {
			return fmt.Errorf("create volume dir %s: %w", v.HostPath, err)
		}
	}
	if err := os.MkdirAll(r.opts.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	return nil
}

func (r *Runtime) Start(ctx context.Context, svc topology.Service) error {
	if len(svc.Command) == 0 {
		return fmt.Errorf("%w: %q", ErrNoCommand, svc.Name)
	}
	if err := r.Stop(ctx, svc.Name); err != nil {
		return err
	}

	logFile, err := os.OpenFile(r.LogPath(svc.Name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log for %s: %w", svc.Name, err)
	}

	// Not CommandContext: the instance outlives the request that started it.
	cmd := exec.Command(svc.Command[0], svc.Command[1:]...)
	cmd.Dir = r.workDir(svc)
	cmd.Env = append(os.Environ(), svc.EnvList()...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start %s: %w", svc.Name, err)
	}

	p := &proc{cmd: cmd, done: make(chan struct{}), startedAt: time.Now()}
	go func() {
		err := cmd.Wait()
		logFile.Close()

		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}

		r.mu.Lock()
		p.exitCode = code
		r.mu.Unlock()
		close(p.done)
	}()

	r.mu.Lock()
	r.procs[svc.Name] = p
	r.mu.Unlock()

	r.opts.Logger.Debugw("process started", "service", svc.Name, "pid", cmd.Process.Pid)
	return nil
}

// workDir is the build context of svc, where its sources live.
func (r *Runtime) workDir(svc topology.Service) string {
	if svc.Build != nil && svc.Build.Context != "" {
		return svc.Build.Context
	}
	return r.opts.Dir
}

// Stop sends SIGTERM to the process group and SIGKILL once the stop timeout
// or ctx runs out.
func (r *Runtime) Stop(ctx context.Context, name string) error {
	r.mu.Lock()
	p, ok := r.procs[name]
	r.mu.Unlock()
	if !ok || !p.running() {
		return nil
	}

	if err := terminate(p.cmd); err != nil {
		r.opts.Logger.Warnw("failed to signal process", "service", name, "error", err)
	}

	timer := time.NewTimer(r.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	r.opts.Logger.Warnw("process did not exit in time, killing", "service", name)
	killErr := kill(p.cmd)
	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("kill %s: process still running: %v", name, killErr)
	}
}

func (r *Runtime) Remove(ctx context.Context, name string) error {
	if err := r.Stop(ctx, name); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.procs, name)
	r.mu.Unlock()
	return nil
}

func (r *Runtime) Inspect(_ context.Context, name string) (supervisor.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.procs[name]
	if !ok {
		return supervisor.Status{}, nil
	}

	st := supervisor.Status{
		Exists:    true,
		StartedAt: p.startedAt,
		ID:        fmt.Sprint(p.cmd.Process.Pid),
		State:     topology.StateRunning,
	}
	if !p.running() {
		st.State = topology.StateExited
		st.ExitCode = p.exitCode
	}
	return st, nil
}

// Logs copies the service log to w. With follow it keeps copying whatever is
// appended until ctx is done.
func (r *Runtime) Logs(ctx context.Context, name string, follow bool, w io.Writer) error {
	path := r.LogPath(name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log for %s: %w", name, err)
	}
	defer f.Close()

	if !follow {
		_, err := io.Copy(w, f)
		return err
	}

	// Watch before the first copy so no write falls in between.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch log for %s: %w", name, err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch log for %s: %w", name, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) {
				continue
			}
			if _, err := io.Copy(w, f); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.opts.Logger.Warnw("log watch error", "service", name, "error", err)
		}
	}
}

func (r *Runtime) ManagesRestarts() bool { return false }

// Close stops every process still running.
func (r *Runtime) Close() error {
	r.mu.Lock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	r.mu.Unlock()

	var errs []error
	for _, name := range names {
		errs = append(errs, r.Stop(context.Background(), name))
	}
	return errors.Join(errs...)
}
