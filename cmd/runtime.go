package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sarth-shah20/keel/internal/cloud"
	"github.com/sarth-shah20/keel/internal/docker"
	"github.com/sarth-shah20/keel/internal/process"
	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

const (
	runtimeDocker  = "docker"
	runtimeProcess = "process"
)

type runtimeOptions struct {
	runID   string
	rebuild bool
}

func newRuntime(opts runtimeOptions) (supervisor.Runtime, error) {
	switch cfg.Supervisor.Runtime {
	case runtimeDocker, "":
		mgr, err := docker.NewManager(log)
		if err != nil {
			return nil, err
		}
		return docker.NewRuntime(mgr, stack, docker.RuntimeOptions{
			RunID:       opts.runID,
			Rebuild:     opts.rebuild,
			StopTimeout: cfg.Supervisor.StopTimeout,
		}), nil
	case runtimeProcess:
		return process.NewRuntime(process.Options{
			Dir:         cfg.BaseDir(),
			LogDir:      filepath.Join(cfg.StateDir(), "logs"),
			StopTimeout: cfg.Supervisor.StopTimeout,
			Logger:      log,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown runtime %q", topology.ErrInvalidConfig, cfg.Supervisor.Runtime)
	}
}

func openRegistry() (*supervisor.Registry, error) {
	return supervisor.LoadRegistry(filepath.Join(cfg.StateDir(), supervisor.RegistryFile))
}

func newSupervisor(rt supervisor.Runtime, opts supervisor.Options) (*supervisor.Supervisor, error) {
	reg, err := openRegistry()
	if err != nil {
		return nil, err
	}
	opts.Registry = reg
	opts.Logger = log
	if opts.PollInterval == 0 {
		opts.PollInterval = cfg.Supervisor.PollInterval
	}
	return supervisor.New(stack, rt, opts)
}

// resolveCloud substitutes ${rds:...} and ${elasticache:...} placeholders.
// Stacks without placeholders never touch AWS.
func resolveCloud(ctx context.Context) error {
	if !cloud.HasPlaceholders(stack) {
		return nil
	}
	res, err := cloud.NewAWSResolver(ctx, cfg.AWS.Region, log)
	if err != nil {
		return err
	}
	return res.ResolveStack(ctx, stack)
}

// ordered returns names in start order, or stop order when stopping.
func ordered(names []string, stopping bool) ([]string, error) {
	orderFn := topology.StartOrder
	if stopping {
		orderFn = topology.StopOrder
	}
	order, err := orderFn(stack)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	out := make([]string, 0, len(names))
	for _, n := range order {
		if want[n] {
			out = append(out, n)
		}
	}
	return out, nil
}
