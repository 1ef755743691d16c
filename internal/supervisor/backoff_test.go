package supervisor

import (
	"testing"
	"time"

	"github.com/sarth-shah20/keel/internal/topology"
)

func TestRetryDelays(t *testing.T) {
	r := newRetry(topology.Backoff{Initial: time.Second, Max: 10 * time.Second})

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		if got := r.NextBackOff(); got != w {
			t.Errorf("failure %d: expected %s, got %s", i+1, w, got)
		}
	}

	r.Reset()
	if got := r.NextBackOff(); got != time.Second {
		t.Fatalf("expected reset to start over at 1s, got %s", got)
	}
}

func TestRetryDelays_Disabled(t *testing.T) {
	r := newRetry(topology.Backoff{})
	for i := 0; i < 7; i++ {
		if got := r.NextBackOff(); got != 0 {
			t.Fatalf("disabled backoff should restart immediately, got %s", got)
		}
	}
}

func TestRetryDelays_UncappedNeverStops(t *testing.T) {
	r := newRetry(topology.Backoff{Initial: time.Hour})
	var got time.Duration
	for i := 0; i < 200; i++ {
		got = r.NextBackOff()
		if got < 0 {
			t.Fatalf("failure %d: retry gave up (%s)", i+1, got)
		}
	}
	if got < time.Hour {
		t.Fatalf("expected a long delay, got %s", got)
	}
}

func TestResetAfter(t *testing.T) {
	if got := resetAfter(topology.Backoff{}); got != defaultResetAfter {
		t.Fatalf("expected default, got %s", got)
	}
	if got := resetAfter(topology.Backoff{ResetAfter: 5 * time.Second}); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}
