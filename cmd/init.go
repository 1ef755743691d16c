package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/keel/internal/config"
)

var (
	initName  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a keel.yaml with a backend and a frontend service",
	Annotations: map[string]string{skipConfig: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		name := initName
		if name == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			name = projectName(filepath.Base(wd))
		}

		if err := config.Write(cfgFile, config.Default(name), initForce); err != nil {
			return err
		}
		fmt.Printf("Wrote %s for project %q.\n", cfgFile, name)
		return nil
	},
}

// projectName turns a directory name into something usable in container
// and network names.
func projectName(dir string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(dir) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-_")
	if name == "" {
		return "app"
	}
	return name
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "project name (default: current directory name)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
