package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Print the output of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := stack.Service(args[0]); err != nil {
			return err
		}

		// Both runtimes read logs without a supervisor: docker keeps them
		// per container, the process runtime in the state directory.
		rt, err := newRuntime(runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()

		return rt.Logs(cmd.Context(), args[0], logsFollow, os.Stdout)
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new output")
	rootCmd.AddCommand(logsCmd)
}
