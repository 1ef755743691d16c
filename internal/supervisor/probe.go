package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sarth-shah20/keel/internal/topology"
)

// Prober checks whether something is listening.
type Prober interface {
	// Check runs a readiness probe once.
	Check(ctx context.Context, p topology.Probe) error
	// Dial reports whether a TCP connection to addr can be opened.
	Dial(ctx context.Context, addr string) error
}

// NetProber probes over the network.
type NetProber struct {
	Timeout time.Duration
}

func (n NetProber) timeout() time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return 2 * time.Second
}

func (n NetProber) Dial(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: n.timeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (n NetProber) Check(ctx context.Context, p topology.Probe) error {
	if p.TCP != "" {
		return n.Dial(ctx, p.TCP)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.HTTP, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s returned %d", p.HTTP, resp.StatusCode)
	}
	return nil
}

// waitReady polls the probe every interval until it passes or the probe
// timeout elapses.
func waitReady(ctx context.Context, prober Prober, p topology.Probe) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var lastErr error
	for {
		if lastErr = prober.Check(ctx, p); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("not ready after %s: %w", timeout, lastErr)
		case <-time.After(interval):
		}
	}
}
