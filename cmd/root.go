package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sarth-shah20/keel/internal/config"
	"github.com/sarth-shah20/keel/internal/topology"
)

// Loaded by PersistentPreRunE before any command that needs them.
var (
	cfg   *config.Config
	stack *topology.Stack
	log   *zap.SugaredLogger
)

var (
	cfgFile string
	verbose bool
)

// skipConfig marks commands that run without a config file.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:           "keel",
	Short:         "keel: run and supervise a small service stack",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(verbose)
		if err != nil {
			return err
		}
		log = l

		if _, ok := cmd.Annotations[skipConfig]; ok {
			return nil
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		st, err := loaded.Stack()
		if err != nil {
			return err
		}

		cfg = loaded
		stack = st
		log.Debugw("loaded config", "project", cfg.Name, "file", cfgFile, "services", len(st.Services))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.DisableStacktrace = true
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return l.Sugar(), nil
}

// Execute runs the CLI. Errors are printed once here.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultFile, "path to the stack file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
