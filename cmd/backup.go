package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/keel/internal/api"
	"github.com/sarth-shah20/keel/internal/backup"
	"github.com/sarth-shah20/keel/internal/supervisor"
)

var backupList bool

func newBackupService(ctx context.Context) (*backup.Service, supervisor.Runtime, error) {
	store, err := backup.NewS3Store(ctx, backup.S3Options{
		Bucket:   cfg.Backup.Bucket,
		Region:   cfg.Backup.Region,
		Endpoint: cfg.Backup.Endpoint,
	})
	if err != nil {
		return nil, nil, err
	}

	rt, err := newRuntime(runtimeOptions{})
	if err != nil {
		return nil, nil, err
	}

	// A running supervisor knows about processes a fresh runtime cannot see.
	var inspector backup.Inspector = rt
	if client := api.NewClient(cfg.Supervisor.Listen); client.Ping(ctx) == nil {
		inspector = apiInspector{c: client}
	}

	return backup.New(store, inspector, backup.Options{
		Project: cfg.Name,
		Prefix:  cfg.Backup.Prefix,
		Logger:  log,
	}), rt, nil
}

type apiInspector struct{ c *api.Client }

func (a apiInspector) Inspect(ctx context.Context, name string) (supervisor.Status, error) {
	st, err := a.c.Service(ctx, name)
	if err != nil {
		return supervisor.Status{}, err
	}
	return supervisor.Status{
		Exists:    true,
		State:     st.State,
		ExitCode:  st.ExitCode,
		StartedAt: st.StartedAt,
	}, nil
}

var backupCmd = &cobra.Command{
	Use:   "backup <service>",
	Short: "Upload the volumes of a service to S3",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := stack.Service(args[0])
		if err != nil {
			return err
		}

		bs, rt, err := newBackupService(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if backupList {
			snaps, err := bs.List(ctx, svc.Name)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SNAPSHOT\tCREATED\tARCHIVES\tSIZE")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.ID, s.Created.Local().Format("2006-01-02 15:04:05"), len(s.Keys), s.Size)
			}
			return w.Flush()
		}

		snap, err := bs.Backup(ctx, svc)
		if err != nil {
			return err
		}
		log.Infow("backup complete", "service", svc.Name, "snapshot", snap.ID, "archives", len(snap.Keys))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <service> [snapshot]",
	Short: "Replace the volumes of a stopped service with a snapshot (latest by default)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := stack.Service(args[0])
		if err != nil {
			return err
		}
		id := ""
		if len(args) == 2 {
			id = args[1]
		}

		bs, rt, err := newBackupService(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		snap, err := bs.Restore(ctx, svc, id)
		if err != nil {
			return err
		}
		log.Infow("restore complete", "service", svc.Name, "snapshot", snap.ID)
		return nil
	},
}

func init() {
	backupCmd.Flags().BoolVar(&backupList, "list", false, "list snapshots instead of creating one")
	rootCmd.AddCommand(backupCmd, restoreCmd)
}
