// Package launch starts the storage, ticketing and agent processes of one
// batch in dependency order, gating each stage on TCP readiness of the
// previous one, and rolls the batch back when a stage fails.
package launch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/parsecup/pkg/launchconfig"
	"github.com/3leaps/parsecup/pkg/logsink"
	"github.com/3leaps/parsecup/pkg/pidledger"
	"github.com/3leaps/parsecup/pkg/pidtrack"
)

// Default timings.
const (
	DefaultReadinessTimeout = 60 * time.Second
	DefaultSettleDelay      = time.Second
)

// State is the orchestrator's position in the launch sequence.
type State int

const (
	StateIdle State = iota
	StateSpawningStorage
	StateSpawningTicketing
	StateSpawningAgent
	StateRunning
	StateFailed
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawningStorage:
		return "spawning_storage"
	case StateSpawningTicketing:
		return "spawning_ticketing"
	case StateSpawningAgent:
		return "spawning_agent"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ReadinessWaiter blocks until host:port accepts a connection, the timeout
// elapses, or ctx is cancelled. *readiness.Gate satisfies it.
type ReadinessWaiter interface {
	Wait(ctx context.Context, host string, port int, timeout time.Duration) error
}

// Ledger is the durable record of spawned processes. *pidledger.Store
// satisfies it.
type Ledger interface {
	Append(rec pidledger.Record) error
	MarkTerminated(batchID string, pid int) error
}

// Timings controls the waits of a launch.
type Timings struct {
	// Readiness bounds each endpoint wait. Zero allows a single attempt.
	Readiness time.Duration

	// Settle is slept after starting storage and after starting ticketing.
	Settle time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{Readiness: DefaultReadinessTimeout, Settle: DefaultSettleDelay}
}

// Deps carries everything a launch needs. Config, Ports, Sinks, Tracker,
// Spawner and Gate are required; the rest are optional.
type Deps struct {
	Config   launchconfig.LaunchConfig
	Ports    launchconfig.PortAssignment
	Binaries Binaries
	Sinks    *logsink.Set
	Tracker  *pidtrack.Tracker
	Spawner  Spawner
	Gate     ReadinessWaiter
	Ledger   Ledger
	Metrics  *Metrics
	Logger   *zap.Logger
	Timings  Timings
	BatchID  string
}

// Result summarizes a finished launch.
type Result struct {
	BatchID   string                   `json:"batch_id"`
	State     string                   `json:"state"`
	Processes []pidtrack.ProcessRecord `json:"processes"`
	LogPaths  map[string]string        `json:"log_paths"`
	Elapsed   time.Duration            `json:"elapsed_ns"`
}

type child struct {
	proc       Process
	rec        pidtrack.ProcessRecord
	terminated bool
}

// Orchestrator runs one launch. It is single-use.
type Orchestrator struct {
	deps     Deps
	state    State
	children []*child
	log      *zap.Logger
	main     *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New validates deps and returns an idle orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Sinks == nil:
		return nil, fmt.Errorf("launch: log sinks are required")
	case deps.Tracker == nil:
		return nil, fmt.Errorf("launch: tracker is required")
	case deps.Spawner == nil:
		return nil, fmt.Errorf("launch: spawner is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("launch: readiness gate is required")
	}
	if err := deps.Ports.Validate(); err != nil {
		return nil, err
	}
	if deps.BatchID == "" {
		deps.BatchID = uuid.NewString()
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		deps:  deps,
		state: StateIdle,
		log:   log.With(zap.String("batch_id", deps.BatchID)),
		main:  deps.Sinks.Logger(launchconfig.MainSink),
		sleep: sleepCtx,
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.state
}

// BatchID returns the identifier shared by every process of this launch.
func (o *Orchestrator) BatchID() string {
	return o.deps.BatchID
}

// Run executes the launch sequence. On success the batch is left running.
// On failure every child started by this call has been asked to terminate
// exactly once. On interrupt children are left running and ErrInterrupted
// is returned.
func (o *Orchestrator) Run(ctx context.Context) (res Result, err error) {
	if o.state != StateIdle {
		return Result{}, fmt.Errorf("launch: orchestrator already used (state=%s)", o.state)
	}

	sw := StartStopwatch("launch")
	defer func() {
		elapsed := sw.Stop(o.main, o.log)
		o.deps.Metrics.finish(elapsed, err == nil)
		res = o.result(elapsed)
	}()

	cfg := o.deps.Config
	topo := cfg.Topology()
	o.main.Info(fmt.Sprintf("topology: %d logical shards, %d physical shards, %d physical ticket machines, %d agents",
		topo.LogicalShards, topo.PhysicalShards, topo.PhysicalTicketMachines, topo.Agents))

	o.state = StateSpawningStorage
	if err := o.spawn(ctx, launchconfig.RoleStorage); err != nil {
		return Result{}, o.abort(ctx, err)
	}
	if err := o.settle(ctx); err != nil {
		return Result{}, o.interrupted()
	}
	if err := o.await(ctx, launchconfig.RoleStorage, launchconfig.RoleTicketing); err != nil {
		return Result{}, o.abort(ctx, err)
	}

	o.state = StateSpawningTicketing
	if err := o.spawn(ctx, launchconfig.RoleTicketing); err != nil {
		return Result{}, o.abort(ctx, err)
	}
	if err := o.settle(ctx); err != nil {
		return Result{}, o.interrupted()
	}
	if err := o.await(ctx, launchconfig.RoleTicketing, launchconfig.RoleAgent); err != nil {
		return Result{}, o.abort(ctx, err)
	}
	if err := o.await(ctx, launchconfig.RoleStorage, launchconfig.RoleAgent); err != nil {
		return Result{}, o.abort(ctx, err)
	}

	o.state = StateSpawningAgent
	if err := o.spawn(ctx, launchconfig.RoleAgent); err != nil {
		return Result{}, o.abort(ctx, err)
	}

	o.state = StateRunning
	o.main.Info("batch running")
	o.log.Info("Batch running", zap.Int("processes", len(o.children)))
	return Result{}, nil
}

func (o *Orchestrator) spawn(ctx context.Context, role launchconfig.Role) error {
	cmd, err := BuildCommand(role, o.deps.Config, o.deps.Ports, o.deps.Binaries)
	if err != nil {
		return &SpawnError{Role: role, Err: err}
	}

	sink := o.deps.Sinks.Sink(role.String())
	spec := ProcessSpec{Role: role, Path: cmd.Path, Args: cmd.Args}
	logPath := ""
	if sink != nil {
		spec.Output = sink.File()
		logPath = sink.Path
	}

	o.main.Debug("spawning " + cmd.String())
	proc, err := o.deps.Spawner.Spawn(ctx, spec)
	if err != nil {
		return &SpawnError{Role: role, Path: cmd.Path, Err: err}
	}

	rec := pidtrack.ProcessRecord{
		Role:      role,
		PID:       proc.PID(),
		LogPath:   logPath,
		Endpoint:  cmd.Endpoint,
		StartedAt: time.Now().UTC(),
	}
	o.deps.Tracker.Add(rec)
	o.children = append(o.children, &child{proc: proc, rec: rec})
	o.deps.Metrics.spawnedRole(role)

	o.main.Info(fmt.Sprintf("started %s pid=%d endpoint=%s", role, rec.PID, rec.Endpoint))
	o.log.Debug("Spawned process",
		zap.String("role", role.String()),
		zap.Int("pid", rec.PID),
		zap.String("path", cmd.Path),
	)

	if o.deps.Ledger != nil {
		err := o.deps.Ledger.Append(pidledger.Record{
			BatchID:    o.deps.BatchID,
			Role:       role,
			PID:        rec.PID,
			State:      pidledger.StateRunning,
			Executable: cmd.Path,
			Args:       cmd.Args,
			Endpoint:   rec.Endpoint,
			LogPath:    logPath,
			StartedAt:  rec.StartedAt,
		})
		if err != nil {
			o.log.Warn("Failed to record pid in ledger", zap.Int("pid", rec.PID), zap.Error(err))
		}
	}
	return nil
}

// await waits for the readiness endpoint of dep before role may start.
func (o *Orchestrator) await(ctx context.Context, dep, role launchconfig.Role) error {
	port, ok := o.deps.Ports.ReadinessPort(dep)
	if !ok {
		return fmt.Errorf("launch: %s has no readiness endpoint", dep)
	}
	endpoint := launchconfig.Endpoint(o.deps.Config.IP(), port)
	timeout := o.deps.Timings.Readiness
	o.main.Info(fmt.Sprintf("waiting up to %s for %s before starting %s", timeout, endpoint, role))

	start := time.Now()
	err := o.deps.Gate.Wait(ctx, o.deps.Config.IP(), port, timeout)
	o.deps.Metrics.observeReadiness(endpoint, time.Since(start))
	if err == nil {
		o.main.Info(endpoint + " is ready")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ReadinessTimeoutError{Role: role, Endpoint: endpoint, Timeout: timeout, Err: err}
}

func (o *Orchestrator) settle(ctx context.Context) error {
	if o.deps.Timings.Settle <= 0 {
		return ctx.Err()
	}
	return o.sleep(ctx, o.deps.Timings.Settle)
}

// abort fails the launch, unless ctx was cancelled, which is an interrupt.
func (o *Orchestrator) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return o.interrupted()
	}
	return o.fail(err)
}

// fail rolls back every child of this batch and records the failure.
func (o *Orchestrator) fail(cause error) error {
	o.state = StateFailed
	o.main.Error(cause.Error())
	o.log.Error("Launch failed, rolling back", zap.Error(cause), zap.Int("spawned", len(o.children)))

	if errs := o.rollback(); len(errs) > 0 {
		for _, e := range errs {
			o.log.Warn("Rollback", zap.Error(e))
		}
	}
	return cause
}

// rollback terminates children newest first. A child is never signalled
// twice.
func (o *Orchestrator) rollback() []error {
	var errs []error
	for i := len(o.children) - 1; i >= 0; i-- {
		c := o.children[i]
		if c.terminated {
			continue
		}
		c.terminated = true
		o.deps.Tracker.RemoveOldest(c.rec.Role)

		if err := c.proc.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate %s pid %d: %w", c.rec.Role, c.rec.PID, err))
		} else {
			o.main.Info(fmt.Sprintf("terminated %s pid=%d", c.rec.Role, c.rec.PID))
		}
		if o.deps.Ledger != nil {
			if err := o.deps.Ledger.MarkTerminated(o.deps.BatchID, c.rec.PID); err != nil {
				errs = append(errs, fmt.Errorf("ledger: %w", err))
			}
		}
	}
	return errs
}

func (o *Orchestrator) interrupted() error {
	o.state = StateInterrupted
	o.main.Warn("launch interrupted by operator; started processes left running")
	o.log.Warn("Launch interrupted", zap.Int("running", len(o.children)))
	return ErrInterrupted
}

func (o *Orchestrator) result(elapsed time.Duration) Result {
	procs := make([]pidtrack.ProcessRecord, 0, len(o.children))
	for _, c := range o.children {
		procs = append(procs, c.rec)
	}
	return Result{
		BatchID:   o.deps.BatchID,
		State:     o.state.String(),
		Processes: procs,
		LogPaths:  o.deps.Sinks.Paths(),
		Elapsed:   elapsed,
	}
}

// IsInterrupted reports whether err is an operator interrupt.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
