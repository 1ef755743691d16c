package supervisor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sarth-shah20/keel/internal/topology"
)

func TestNetProber_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	p := NetProber{Timeout: time.Second}
	if err := p.Check(context.Background(), topology.Probe{TCP: addr}); err != nil {
		t.Fatalf("expected listener to be reachable: %v", err)
	}

	ln.Close()
	if err := p.Dial(context.Background(), addr); err == nil {
		t.Fatal("expected closed port to be unreachable")
	}
}

func TestNetProber_HTTP(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NetProber{Timeout: time.Second}
	probe := topology.Probe{HTTP: srv.URL + "/health"}
	if err := p.Check(context.Background(), probe); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}

	healthy.Store(false)
	if err := p.Check(context.Background(), probe); err == nil {
		t.Fatal("expected 503 to fail the probe")
	}
}

func TestWaitReady_BecomesReady(t *testing.T) {
	prober := &fakeProber{up: map[string]bool{}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		prober.mu.Lock()
		prober.up["db:5432"] = true
		prober.mu.Unlock()
	}()

	probe := topology.Probe{TCP: "db:5432", Interval: 5 * time.Millisecond, Timeout: 2 * time.Second}
	if err := waitReady(context.Background(), prober, probe); err != nil {
		t.Fatalf("waitReady: %v", err)
	}
}

func TestWaitReady_TimesOut(t *testing.T) {
	prober := &fakeProber{up: map[string]bool{}}
	probe := topology.Probe{TCP: "db:5432", Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}

	start := time.Now()
	if err := waitReady(context.Background(), prober, probe); err == nil {
		t.Fatal("expected timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatal("waitReady ignored its timeout")
	}
}
