package supervisor

import (
	"context"
	"io"
	"time"

	"github.com/sarth-shah20/keel/internal/topology"
)

// Status is what a runtime reports about one service instance.
type Status struct {
	Exists    bool
	State     topology.State
	ExitCode  int
	StartedAt time.Time
	// Restarts performed by the runtime on its own, e.g. the docker
	// daemon's restart policy.
	Restarts int
	ID       string
}

// Runtime runs service instances. Implementations are bound to one stack.
type Runtime interface {
	// Prepare makes the service startable: volume directories, images.
	Prepare(ctx context.Context, svc topology.Service) error
	// Start launches a fresh instance, replacing any previous one.
	Start(ctx context.Context, svc topology.Service) error
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	Inspect(ctx context.Context, name string) (Status, error)
	Logs(ctx context.Context, name string, follow bool, w io.Writer) error
	// ManagesRestarts reports whether the runtime applies restart policies
	// itself. The supervisor then only observes.
	ManagesRestarts() bool
	Close() error
}
