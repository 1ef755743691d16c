package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/keel/internal/topology"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the stack file and print the start order",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Structural validation already ran while loading.
		order, err := topology.StartOrder(stack)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d services, start order: %s\n", cfg.Name, len(order), strings.Join(order, " -> "))

		findings := topology.CheckEndpoints(stack)
		for _, f := range findings {
			fmt.Printf("warning: %s\n", f)
		}
		if validateStrict && len(findings) > 0 {
			return fmt.Errorf("%w: %d endpoint warnings", topology.ErrInvalidConfig, len(findings))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "treat endpoint warnings as errors")
	rootCmd.AddCommand(validateCmd)
}
