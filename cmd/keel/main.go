package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sarth-shah20/keel/cmd"
)

func main() {
	// SIGINT/SIGTERM cancel the root context; long-running commands shut down
	// their services from there.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
