package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/keel/internal/api"
	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

type action string

const (
	actionStart   action = "start"
	actionStop    action = "stop"
	actionRestart action = "restart"
)

// controller is what start/stop/restart talk to: the running supervisor
// over its API, or a local one for the docker runtime.
type controller interface {
	apply(ctx context.Context, a action, name string) error
	status(ctx context.Context) ([]supervisor.ServiceStatus, error)
	close() error
}

type remoteController struct{ c *api.Client }

func (r remoteController) apply(ctx context.Context, a action, name string) error {
	var err error
	switch a {
	case actionStart:
		_, err = r.c.Start(ctx, name)
	case actionStop:
		_, err = r.c.Stop(ctx, name)
	case actionRestart:
		_, err = r.c.Restart(ctx, name)
	}
	return err
}

func (r remoteController) status(ctx context.Context) ([]supervisor.ServiceStatus, error) {
	return r.c.Services(ctx)
}

func (r remoteController) close() error { return nil }

type localController struct {
	sup *supervisor.Supervisor
	rt  supervisor.Runtime
}

func (l localController) apply(ctx context.Context, a action, name string) error {
	switch a {
	case actionStart:
		return l.sup.Start(ctx, name)
	case actionStop:
		return l.sup.Stop(ctx, name)
	default:
		return l.sup.Restart(ctx, name)
	}
}

func (l localController) status(ctx context.Context) ([]supervisor.ServiceStatus, error) {
	return l.sup.Status(ctx)
}

func (l localController) close() error { return l.rt.Close() }

// connect prefers a listening supervisor. Without one only the docker
// runtime can be driven, since its instances outlive keel.
func connect(ctx context.Context) (controller, error) {
	client := api.NewClient(cfg.Supervisor.Listen)
	if err := client.Ping(ctx); err == nil {
		log.Debugw("using running supervisor", "addr", cfg.Supervisor.Listen)
		return remoteController{c: client}, nil
	}

	if cfg.Supervisor.Runtime == runtimeProcess {
		return nil, fmt.Errorf("no supervisor is listening on %s; run 'keel supervise'", cfg.Supervisor.Listen)
	}

	rt, err := newRuntime(runtimeOptions{})
	if err != nil {
		return nil, err
	}
	sup, err := newSupervisor(rt, supervisor.Options{})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return localController{sup: sup, rt: rt}, nil
}

func lifecycleCommand(a action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(a) + " <service-pattern>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			names, err := topology.Select(stack, args)
			if err != nil {
				return err
			}
			// Dependents go down before what they depend on.
			names, err = ordered(names, a == actionStop)
			if err != nil {
				return err
			}

			ctl, err := connect(ctx)
			if err != nil {
				return err
			}
			defer ctl.close()

			for _, name := range names {
				if err := ctl.apply(ctx, a, name); err != nil {
					return fmt.Errorf("%s %s: %w", a, name, err)
				}
				log.Infow("done", "action", string(a), "service", name)
			}

			all, err := ctl.status(ctx)
			if err != nil {
				return err
			}
			return printStatus(os.Stdout, all)
		},
	}
}

func init() {
	rootCmd.AddCommand(
		lifecycleCommand(actionStart, "Start services and clear an explicit stop"),
		lifecycleCommand(actionStop, "Stop services; they stay stopped until started again"),
		lifecycleCommand(actionRestart, "Restart services"),
	)
}
