package cmd

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sarth-shah20/keel/internal/api"
	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

var superviseBuild bool

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Start the stack and keep it running until interrupted",
	Long: `Start every service in dependency order, restart services that exit
according to their restart policy, and serve the control API on
supervisor.listen. SIGINT or SIGTERM stops the supervisor; with the process
runtime the services are stopped too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := resolveCloud(ctx); err != nil {
			return err
		}
		for _, f := range topology.CheckEndpoints(stack) {
			log.Warnw("suspicious endpoint", "finding", f.String())
		}

		runID := uuid.NewString()
		rt, err := newRuntime(runtimeOptions{runID: runID, rebuild: superviseBuild})
		if err != nil {
			return err
		}
		defer rt.Close()

		sup, err := newSupervisor(rt, supervisor.Options{RunID: runID})
		if err != nil {
			return err
		}

		apiErr := make(chan error, 1)
		go func() {
			err := api.NewServer(sup, log).ListenAndServe(ctx, cfg.Supervisor.Listen)
			if err != nil {
				// A supervisor nobody can control is not worth keeping.
				cancel()
			}
			apiErr <- err
		}()

		log.Infow("supervising", "project", cfg.Name, "run", runID, "runtime", cfg.Supervisor.Runtime)
		runErr := sup.Run(ctx)
		cancel()

		if err := <-apiErr; err != nil && runErr == nil {
			runErr = err
		}
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	},
}

func init() {
	superviseCmd.Flags().BoolVar(&superviseBuild, "build", false, "rebuild images before starting")
	rootCmd.AddCommand(superviseCmd)
}
