package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/keel/internal/api"
	"github.com/sarth-shah20/keel/internal/docker"
	"github.com/sarth-shah20/keel/internal/supervisor"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove services",
	Long: `Stop and remove every service, dependents first, and remove the project
network. Host directories behind volumes (./data) are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if api.NewClient(cfg.Supervisor.Listen).Ping(ctx) == nil {
			return fmt.Errorf("a supervisor is running on %s; stop it first", cfg.Supervisor.Listen)
		}

		rt, err := newRuntime(runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()

		sup, err := newSupervisor(rt, supervisor.Options{})
		if err != nil {
			return err
		}

		var errs []error
		if err := sup.Down(ctx); err != nil {
			errs = append(errs, err)
		}

		if drt, ok := rt.(*docker.Runtime); ok {
			removed, err := drt.RemoveOrphans(ctx, stack)
			if err != nil {
				errs = append(errs, err)
			}
			for _, name := range removed {
				log.Infow("removed orphan container", "service", name)
			}
			if err := drt.Teardown(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		if err := errors.Join(errs...); err != nil {
			return err
		}
		log.Infow("environment stopped", "project", cfg.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downCmd)
}
