package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/sarth-shah20/keel/internal/topology"
)

// Options tune a Supervisor. Zero values are usable.
type Options struct {
	PollInterval time.Duration
	Registry     *Registry
	Prober       Prober
	// Recreate replaces instances that are already running during Up.
	Recreate bool
	RunID    string
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// ServiceStatus is a point-in-time view of one service.
type ServiceStatus struct {
	Name      string           `json:"name"`
	State     topology.State   `json:"state"`
	Desired   topology.Desired `json:"desired"`
	Restarts  int              `json:"restarts"`
	ExitCode  int              `json:"exit_code"`
	StartedAt time.Time        `json:"started_at,omitempty"`
	Ports     []string         `json:"ports,omitempty"`
	Reachable bool             `json:"reachable"`
	Ready     *bool            `json:"ready,omitempty"`
}

type unit struct {
	svc             topology.Service
	state           topology.State
	exitCode        int
	startedAt       time.Time
	prepared        bool
	failures        int
	retry           backoff.BackOff
	nextRestart     time.Time
	runtimeRestarts int
}

// Supervisor owns the lifecycle of every service in a stack: ordered start,
// restart on exit according to the restart policy, explicit stop and start.
type Supervisor struct {
	stack    *topology.Stack
	order    []string
	down     []string
	rt       Runtime
	reg      *Registry
	prober   Prober
	poll     time.Duration
	recreate bool
	log      *zap.SugaredLogger
	now      func() time.Time

	mu    sync.Mutex
	units map[string]*unit
}

func New(st *topology.Stack, rt Runtime, opts Options) (*Supervisor, error) {
	order, err := topology.StartOrder(st)
	if err != nil {
		return nil, err
	}
	down, err := topology.StopOrder(st)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		stack:    st,
		order:    order,
		down:     down,
		rt:       rt,
		reg:      opts.Registry,
		prober:   opts.Prober,
		poll:     opts.PollInterval,
		recreate: opts.Recreate,
		log:      opts.Logger,
		now:      opts.Now,
		units:    make(map[string]*unit, len(order)),
	}
	if s.reg == nil {
		s.reg = &Registry{Services: map[string]*Record{}}
	}
	if s.prober == nil {
		s.prober = NetProber{}
	}
	if s.poll <= 0 {
		s.poll = time.Second
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.reg.Project = st.Name
	if opts.RunID != "" {
		s.reg.RunID = opts.RunID
	}
	for _, name := range order {
		svc := st.Services[name]
		s.units[name] = &unit{svc: svc, state: topology.StateCreated, retry: newRetry(svc.Backoff)}
	}
	return s, nil
}

// Order returns the start order.
func (s *Supervisor) Order() []string {
	return append([]string(nil), s.order...)
}

// Run brings the stack up and then keeps it in its desired state until ctx
// is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Up(ctx); err != nil {
		s.halt()
		return err
	}

	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.halt()
			return nil
		case <-t.C:
			s.Reconcile(ctx)
		}
	}
}

// Up starts every service in dependency order. A service waits for its
// dependencies to be started, or ready when it declares wait_for: ready.
// Services stopped by the operator stay stopped unless their policy is
// "always". A service that fails to start, or never becomes ready when a
// dependent waits for it, keeps its dependents from starting; unrelated
// services still start. All failures are returned joined.
func (s *Supervisor) Up(ctx context.Context) error {
	var errs []error
	failed := map[string]bool{}
	for _, name := range s.order {
		if err := ctx.Err(); err != nil {
			return err
		}

		if dep, ok := s.failedDependency(name, failed); ok {
			s.log.Warnw("not starting service, a dependency failed", "service", name, "dependency", dep)
			failed[name] = true
			continue
		}

		started, err := s.bringUp(ctx, name)
		if err == nil && started && s.stack.NeedsReadiness(name) {
			err = s.awaitReady(ctx, name)
		}
		if err != nil {
			s.log.Errorw("service failed to start", "service", name, "error", err)
			errs = append(errs, err)
			failed[name] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.Save(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// failedDependency names a direct dependency of name that failed. The start
// order makes this transitive: a skipped service is marked failed too.
func (s *Supervisor) failedDependency(name string, failed map[string]bool) (string, bool) {
	for _, dep := range s.units[name].svc.DependsOn {
		if failed[dep] {
			return dep, true
		}
	}
	return "", false
}

func (s *Supervisor) bringUp(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.units[name]
	rec := s.reg.Record(name)
	if !u.svc.Restart.StartOnBoot(rec.Desired == topology.DesiredStopped) {
		s.log.Infow("service was stopped explicitly, leaving it stopped", "service", name)
		u.state = topology.StateStopped
		return false, nil
	}
	rec.Desired = topology.DesiredRunning

	for _, dep := range u.svc.DependsOn {
		if s.units[dep].state == topology.StateStopped {
			s.log.Warnw("starting service while a dependency is stopped", "service", name, "dependency", dep)
		}
	}

	if !s.recreate {
		st, err := s.rt.Inspect(ctx, name)
		if err != nil {
			return false, fmt.Errorf("inspect %s: %w", name, err)
		}
		if st.Exists && st.State == topology.StateRunning {
			s.log.Infow("service already running", "service", name)
			u.state = topology.StateRunning
			u.startedAt = st.StartedAt
			u.prepared = true
			u.runtimeRestarts = st.Restarts
			return true, nil
		}
	}

	if err := s.launch(ctx, u, rec); err != nil {
		return false, err
	}
	return true, nil
}

// WaitReady blocks until the readiness probe of name passes. A service
// without a probe is ready as soon as it started.
func (s *Supervisor) WaitReady(ctx context.Context, name string) error {
	if _, err := s.unit(name); err != nil {
		return err
	}
	return s.awaitReady(ctx, name)
}

func (s *Supervisor) awaitReady(ctx context.Context, name string) error {
	probe := s.units[name].svc.Readiness
	if probe == nil {
		return nil
	}
	s.log.Infow("waiting for service to become ready", "service", name, "probe", probe.Address(), "timeout", probe.Timeout.String())
	if err := waitReady(ctx, s.prober, *probe); err != nil {
		return fmt.Errorf("service %q: %w", name, err)
	}
	s.log.Infow("service ready", "service", name)
	return nil
}

// launch prepares the service once and starts a fresh instance. Caller
// holds s.mu.
func (s *Supervisor) launch(ctx context.Context, u *unit, rec *Record) error {
	name := u.svc.Name
	if !u.prepared {
		if err := s.rt.Prepare(ctx, u.svc); err != nil {
			return fmt.Errorf("prepare %s: %w", name, err)
		}
		u.prepared = true
	}

	if err := s.rt.Start(ctx, u.svc); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	if err := s.setState(u, topology.StateRunning); err != nil {
		return err
	}
	u.startedAt = s.now()
	u.runtimeRestarts = 0
	rec.StartedAt = u.startedAt

	s.log.Infow("service started", "service", name)
	return nil
}

func (s *Supervisor) setState(u *unit, to topology.State) error {
	if err := topology.Transition(u.state, to); err != nil {
		return fmt.Errorf("service %q: %w", u.svc.Name, err)
	}
	u.state = to
	return nil
}

// observe records a state seen on the runtime. The runtime is the source of
// truth, so a transition the table does not allow is logged and applied.
func (s *Supervisor) observe(u *unit, to topology.State) {
	if err := s.setState(u, to); err != nil {
		s.log.Warnw("unexpected state change", "service", u.svc.Name, "from", string(u.state), "to", string(to), "error", err)
		u.state = to
	}
}

// failed records an exit or a failed restart and schedules the next attempt.
func (s *Supervisor) failed(u *unit, now time.Time) {
	u.failures++
	u.nextRestart = now.Add(u.retry.NextBackOff())
}

// Reconcile inspects every desired-running service once and restarts the
// ones that exited, as their restart policy and backoff allow.
func (s *Supervisor) Reconcile(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := false
	for _, name := range s.order {
		if s.reconcileUnit(ctx, name) {
			dirty = true
		}
	}
	if dirty {
		if err := s.reg.Save(); err != nil {
			s.log.Warnw("failed to persist registry", "error", err)
		}
	}
}

func (s *Supervisor) reconcileUnit(ctx context.Context, name string) bool {
	u := s.units[name]
	if s.reg.Stopped(name) || u.state == topology.StateCreated {
		return false
	}
	rec := s.reg.Record(name)

	st, err := s.rt.Inspect(ctx, name)
	if err != nil {
		s.log.Warnw("inspect failed", "service", name, "error", err)
		return false
	}
	now := s.now()

	if st.Exists && st.State == topology.StateRunning {
		if st.Restarts > u.runtimeRestarts {
			s.log.Warnw("service was restarted by the runtime", "service", name, "restarts", st.Restarts)
			u.runtimeRestarts = st.Restarts
		}
		if u.state != topology.StateRunning {
			s.observe(u, topology.StateRunning)
		}
		if u.failures > 0 && now.Sub(u.startedAt) >= resetAfter(u.svc.Backoff) {
			u.failures = 0
			u.retry.Reset()
		}
		return false
	}
	if st.Exists && st.State == topology.StateRestarting {
		if u.state != topology.StateRestarting {
			s.observe(u, topology.StateRestarting)
		}
		return false
	}

	// Exited, or gone altogether.
	if u.state.Live() {
		code := st.ExitCode
		if !st.Exists {
			code = -1
		}
		s.log.Warnw("service exited", "service", name, "exit_code", code)
		u.exitCode = code
		s.observe(u, topology.StateExited)
		s.failed(u, now)
	}

	if u.state != topology.StateExited || s.rt.ManagesRestarts() {
		return false
	}
	if !u.svc.Restart.ShouldRestart(u.exitCode, false) || now.Before(u.nextRestart) {
		return false
	}

	s.observe(u, topology.StateRestarting)
	if err := s.launch(ctx, u, rec); err != nil {
		s.log.Errorw("restart failed", "service", name, "error", err)
		s.observe(u, topology.StateExited)
		s.failed(u, now)
		return false
	}
	rec.Restarts++
	s.log.Infow("service restarted", "service", name, "restarts", rec.Restarts, "exit_code", u.exitCode)
	return true
}

// Stop stops a service and records the explicit stop, so neither the
// restart policy nor a later Up brings it back. Only Start does.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.unit(name)
	if err != nil {
		return err
	}

	rec := s.reg.Record(name)
	rec.Desired = topology.DesiredStopped
	rec.StoppedAt = s.now()
	if err := s.reg.Save(); err != nil {
		return err
	}

	if err := s.rt.Stop(ctx, name); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	if err := s.setState(u, topology.StateStopped); err != nil {
		return err
	}
	s.log.Infow("service stopped", "service", name)
	return nil
}

// Start clears an explicit stop and starts the service if it is not running.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.unit(name)
	if err != nil {
		return err
	}
	rec := s.reg.Record(name)
	rec.Desired = topology.DesiredRunning

	st, err := s.rt.Inspect(ctx, name)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", name, err)
	}
	if st.Exists && st.State == topology.StateRunning {
		u.state = topology.StateRunning
		return s.reg.Save()
	}

	u.failures = 0
	u.retry.Reset()
	if err := s.launch(ctx, u, rec); err != nil {
		return err
	}
	return s.reg.Save()
}

// Restart replaces the running instance. It also clears an explicit stop.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.unit(name)
	if err != nil {
		return err
	}
	rec := s.reg.Record(name)
	rec.Desired = topology.DesiredRunning

	if err := s.rt.Stop(ctx, name); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	if u.state != topology.StateStopped && u.state != topology.StateCreated {
		if err := s.setState(u, topology.StateRestarting); err != nil {
			return err
		}
	}

	u.failures = 0
	u.retry.Reset()
	if err := s.launch(ctx, u, rec); err != nil {
		return err
	}
	return s.reg.Save()
}

// Down stops and removes every service, dependents first, and forgets
// explicit stops. Volumes are host directories and are never touched.
func (s *Supervisor) Down(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, name := range s.down {
		if err := s.rt.Stop(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
		if err := s.rt.Remove(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
		s.units[name].state = topology.StateStopped
		s.log.Infow("service removed", "service", name)
	}

	s.reg.Reset()
	if err := s.reg.Save(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// halt stops instances owned by this process on shutdown. Instances the
// runtime keeps alive by itself (docker) are left running, and no explicit
// stop is recorded so the next boot starts them again.
func (s *Supervisor) halt() {
	if s.rt.ManagesRestarts() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	for _, name := range s.down {
		u := s.units[name]
		if !u.state.Live() {
			continue
		}
		if err := s.rt.Stop(ctx, name); err != nil {
			s.log.Warnw("failed to stop service on shutdown", "service", name, "error", err)
			continue
		}
		u.state = topology.StateExited
	}
	if err := s.reg.Save(); err != nil {
		s.log.Warnw("failed to persist registry", "error", err)
	}
}

func (s *Supervisor) unit(name string) (*unit, error) {
	u, ok := s.units[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", topology.ErrUnknownService, name)
	}
	return u, nil
}

// Status reports every service in start order.
func (s *Supervisor) Status(ctx context.Context) ([]ServiceStatus, error) {
	out := make([]ServiceStatus, 0, len(s.order))
	for _, name := range s.order {
		ss, err := s.Service(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, nil
}

// Service reports one service, including whether its published ports accept
// connections and, when it has a probe, whether it is ready.
func (s *Supervisor) Service(ctx context.Context, name string) (ServiceStatus, error) {
	ss, svc, err := s.snapshot(ctx, name)
	if err != nil {
		return ServiceStatus{}, err
	}

	tcpPorts := 0
	reachable := true
	for _, p := range svc.Ports {
		if p.Protocol != "tcp" {
			continue
		}
		tcpPorts++
		host := p.HostIP
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		if err := s.prober.Dial(ctx, net.JoinHostPort(host, strconv.Itoa(p.HostPort))); err != nil {
			reachable = false
		}
	}
	ss.Reachable = tcpPorts > 0 && reachable

	if svc.Readiness != nil {
		ready := s.prober.Check(ctx, *svc.Readiness) == nil
		ss.Ready = &ready
	}
	return ss, nil
}

func (s *Supervisor) snapshot(ctx context.Context, name string) (ServiceStatus, topology.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.unit(name)
	if err != nil {
		return ServiceStatus{}, topology.Service{}, err
	}

	st, err := s.rt.Inspect(ctx, name)
	if err != nil {
		return ServiceStatus{}, topology.Service{}, fmt.Errorf("inspect %s: %w", name, err)
	}

	desired := topology.DesiredRunning
	restarts := st.Restarts
	startedAt := u.startedAt
	if rec, ok := s.reg.Services[name]; ok {
		desired = rec.Desired
		restarts += rec.Restarts
		if startedAt.IsZero() {
			startedAt = rec.StartedAt
		}
	}

	state := u.state
	exitCode := u.exitCode
	switch {
	case st.Exists && st.State == topology.StateExited && desired == topology.DesiredStopped:
		state = topology.StateStopped
	case st.Exists:
		state = st.State
		exitCode = st.ExitCode
		if !st.StartedAt.IsZero() {
			startedAt = st.StartedAt
		}
	case desired == topology.DesiredStopped:
		state = topology.StateStopped
	case state.Live():
		state = topology.StateExited
	}

	ports := make([]string, 0, len(u.svc.Ports))
	for _, p := range u.svc.Ports {
		ports = append(ports, p.String())
	}

	return ServiceStatus{
		Name:      name,
		State:     state,
		Desired:   desired,
		Restarts:  restarts,
		ExitCode:  exitCode,
		StartedAt: startedAt,
		Ports:     ports,
	}, u.svc, nil
}
