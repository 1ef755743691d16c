package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/keel/internal/supervisor"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List services, their state and whether their ports answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ctl, err := connect(ctx)
		if err != nil {
			return err
		}
		defer ctl.close()

		all, err := ctl.status(ctx)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		}
		return printStatus(os.Stdout, all)
	},
}

func printStatus(out io.Writer, all []supervisor.ServiceStatus) error {
	if len(all) == 0 {
		fmt.Fprintln(out, "No keel services found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tDESIRED\tRESTARTS\tPORTS\tREACHABLE\tREADY")
	for _, s := range all {
		ready := "-"
		if s.Ready != nil {
			ready = yesNo(*s.Ready)
		}
		reachable := "-"
		if len(s.Ports) > 0 {
			reachable = yesNo(s.Reachable)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.Name, s.State, s.Desired, s.Restarts, strings.Join(s.Ports, ","), reachable, ready)
	}
	return w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}
