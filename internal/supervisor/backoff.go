package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sarth-shah20/keel/internal/topology"
)

// defaultResetAfter is how long an instance must stay up before its failure
// streak is forgotten when the backoff does not say otherwise.
const defaultResetAfter = time.Minute

// uncappedInterval stands in for "no max". It stays exact as a float64, which
// the exponential backoff computes in.
const uncappedInterval = time.Duration(1 << 62)

// newRetry returns the restart delay sequence for b: initial, 2*initial,
// 4*initial ... capped at max, with no jitter and no give-up point. A
// disabled backoff restarts immediately.
func newRetry(b topology.Backoff) backoff.BackOff {
	if !b.Enabled() {
		return &backoff.ZeroBackOff{}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = b.Max
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = uncappedInterval
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

func resetAfter(b topology.Backoff) time.Duration {
	if b.ResetAfter > 0 {
		return b.ResetAfter
	}
	return defaultResetAfter
}
