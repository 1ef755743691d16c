package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

var (
	upBuild    bool
	upWait     bool
	upRecreate bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Build, create and start every service in dependency order",
	Long: `Start the stack once and return. The docker daemon keeps the services
running according to their restart policies from then on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Supervisor.Runtime == runtimeProcess {
			return fmt.Errorf("the process runtime only keeps services alive while keel runs; use 'keel supervise'")
		}
		if err := resolveCloud(ctx); err != nil {
			return err
		}
		for _, f := range topology.CheckEndpoints(stack) {
			log.Warnw("suspicious endpoint", "finding", f.String())
		}

		runID := uuid.NewString()
		rt, err := newRuntime(runtimeOptions{runID: runID, rebuild: upBuild})
		if err != nil {
			return err
		}
		defer rt.Close()

		sup, err := newSupervisor(rt, supervisor.Options{RunID: runID, Recreate: upRecreate || upBuild})
		if err != nil {
			return err
		}
		if err := sup.Up(ctx); err != nil {
			return err
		}

		if upWait {
			for _, name := range sup.Order() {
				if err := sup.WaitReady(ctx, name); err != nil {
					return err
				}
			}
		}
		log.Infow("stack is up", "project", cfg.Name, "run", runID)

		all, err := sup.Status(ctx)
		if err != nil {
			return err
		}
		return printStatus(os.Stdout, all)
	},
}

func init() {
	upCmd.Flags().BoolVar(&upBuild, "build", false, "rebuild images and recreate their containers")
	upCmd.Flags().BoolVar(&upWait, "wait", false, "wait until every service with a readiness probe is ready")
	upCmd.Flags().BoolVar(&upRecreate, "force-recreate", false, "recreate containers that are already running")
	rootCmd.AddCommand(upCmd)
}
