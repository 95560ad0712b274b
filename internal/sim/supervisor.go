package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/clock"
	"github.com/sweeney/coffee-machine/internal/machine"
)

// ErrClosed is returned by operations invoked after Shutdown.
var ErrClosed = errors.New("supervisor closed")

// Publisher receives every snapshot the supervisor produces.
type Publisher interface {
	PublishStatus(machine.Snapshot)
}

// Publishers fans a snapshot out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) PublishStatus(s machine.Snapshot) {
	for _, p := range ps {
		p.PublishStatus(s)
	}
}

// StatusSaver persists snapshots as they are produced.
type StatusSaver interface {
	SaveStatus(ctx context.Context, snap machine.Snapshot) error
}

// Toucher records activity.
type Toucher interface {
	Touch()
}

// Recorder observes task lifecycle and ticks, e.g. for metrics.
type Recorder interface {
	TaskStarted(kind Kind)
	TaskFinished(kind Kind, outcome Outcome, elapsed time.Duration)
	TickApplied(snap machine.Snapshot)
}

// Outcome is how a task ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeResumed   Outcome = "resumed"
)

// Result describes a finished task.
type Result struct {
	Task    Task
	Outcome Outcome
	Err     error
	Final   machine.Snapshot
	Elapsed time.Duration
}

// Config holds supervisor dependencies. State and Clock are required.
type Config struct {
	State     *machine.State
	Clock     clock.Clock
	Publisher Publisher
	Store     StatusSaver
	Activity  Toucher
	Recorder  Recorder
	OnFinish  func(Result)
	Logger    zerolog.Logger
}

// run is one occupancy of the task slot. A cool-down resumed into a heat-up
// keeps the same run.
type run struct {
	kind   Kind
	cancel context.CancelFunc
	done   chan struct{}
	resume chan struct{}
}

// Supervisor owns the single task slot. At most one task mutates the machine
// state at any time; starting a task cancels and awaits the previous one.
type Supervisor struct {
	cfg Config
	log zerolog.Logger

	// startMu serializes operations that change the slot. The runner
	// goroutine never takes it.
	startMu sync.Mutex

	mu     sync.Mutex
	cur    *run
	closed bool

	inflight   atomic.Int32
	violations atomic.Int64
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg, log: cfg.Logger.With().Str("component", "sim").Logger()}
}

// Start cancels the running task, waits for it to exit, then launches t.
// It returns once t is running; the outcome is reported through the
// publisher and OnFinish.
func (s *Supervisor) Start(t Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.startLocked(t)
}

// CancelCurrent cancels the running task, if any, and waits for it to exit.
func (s *Supervisor) CancelCurrent() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.stopCurrent()
}

// Heat powers the machine on and heats it to brewing temperature.
// A running cool-down is resumed into a heat-up; a running heat-up is left
// alone.
func (s *Supervisor) Heat() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if r := s.cur; r != nil {
		switch r.kind {
		case KindHeatUp:
			s.mu.Unlock()
			return nil
		case KindCoolDown:
			select {
			case r.resume <- struct{}{}:
			default:
			}
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	return s.startLocked(HeatUp(machine.BrewTemp))
}

// CoolDown starts a cool-down, replacing any running task.
func (s *Supervisor) CoolDown() error {
	return s.Start(CoolDown())
}

// CoolDownIfIdle starts a cool-down only if the machine is powered on, no
// task runs and stillIdle reports true. The checks and the start happen
// under the slot lock, so a command that starts a task first wins.
func (s *Supervisor) CoolDownIfIdle(stillIdle func() bool) (bool, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.Idle() || !s.PoweredOn() || (stillIdle != nil && !stillIdle()) {
		return false, nil
	}
	if err := s.startLocked(CoolDown()); err != nil {
		return false, err
	}
	return true, nil
}

// Brew starts brewing amount cups of r, replacing any running task.
func (s *Supervisor) Brew(r machine.Recipe, amount int) error {
	return s.Start(Brew(r, amount))
}

// Maintain applies a maintenance command. It is rejected while a task runs
// or while the machine is powered off.
func (s *Supervisor) Maintain(kind machine.Maintenance) (machine.Snapshot, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.Idle() {
		return s.cfg.State.Snapshot(), fmt.Errorf("%s while a task runs: %w", kind, machine.ErrInvalidOperation)
	}
	snap, err := s.cfg.State.ApplyMaintenance(kind)
	if err != nil {
		return snap, err
	}
	s.emit(snap, true)
	return snap, nil
}

// ForceWaiting sets the step to waiting when no task runs. It does not count
// as activity.
func (s *Supervisor) ForceWaiting() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.Idle() {
		return
	}
	snap := s.cfg.State.Mutate(func(sn *machine.Snapshot) {
		sn.Step = machine.StepWaiting
		sn.WaterFlow = 0
	})
	s.emit(snap, false)
}

// Rebroadcast republishes the current snapshot when no task runs.
// Running tasks publish on every tick already.
func (s *Supervisor) Rebroadcast() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.Idle() || s.cfg.Publisher == nil {
		return
	}
	s.cfg.Publisher.PublishStatus(s.cfg.State.Snapshot())
}

// Idle reports whether no task is running.
func (s *Supervisor) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur == nil
}

// Running returns the kind of the running task.
func (s *Supervisor) Running() (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return "", false
	}
	return s.cur.kind, true
}

// PoweredOn reports the machine's power flag.
func (s *Supervisor) PoweredOn() bool {
	return s.cfg.State.Snapshot().PoweredOn
}

// Snapshot returns the current machine state.
func (s *Supervisor) Snapshot() machine.Snapshot {
	return s.cfg.State.Snapshot()
}

// Wait blocks until the running task, if any, has exited.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

// Shutdown cancels the running task and refuses further starts.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	s.closed = true
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await task exit: %w", ctx.Err())
	}
}

// Violations returns how many times two tasks were observed applying a tick
// at the same time. Always zero unless single-flight is broken.
func (s *Supervisor) Violations() int64 {
	return s.violations.Load()
}

func (s *Supervisor) startLocked(t Task) error {
	s.stopCurrent()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		kind:   t.Kind,
		cancel: cancel,
		done:   make(chan struct{}),
		resume: make(chan struct{}, 1),
	}
	s.cur = r
	go s.runner(ctx, r, t)
	return nil
}

// stopCurrent cancels the running task and blocks until it has exited.
// Caller holds startMu.
func (s *Supervisor) stopCurrent() {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (s *Supervisor) runner(ctx context.Context, r *run, t Task) {
	defer close(r.done)
	defer r.cancel()

	for {
		res := s.execute(ctx, r, t)
		s.report(res)

		s.mu.Lock()
		next := res.Outcome == OutcomeResumed
		if t.Kind == KindCoolDown && res.Outcome == OutcomeCompleted {
			select {
			case <-r.resume:
				next = true
			default:
			}
		}
		if !next {
			select {
			case <-r.resume:
			default:
			}
			if s.cur == r {
				s.cur = nil
			}
			s.mu.Unlock()
			return
		}
		t = HeatUp(machine.BrewTemp)
		r.kind = t.Kind
		s.mu.Unlock()
	}
}

// execute runs t to completion, cancellation, failure or resume.
func (s *Supervisor) execute(ctx context.Context, r *run, t Task) Result {
	started := s.cfg.Clock.Now()
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.TaskStarted(t.Kind)
	}
	s.log.Debug().Str("task", t.String()).Msg("task started")

	finish := func(o Outcome, snap machine.Snapshot, err error) Result {
		return Result{Task: t, Outcome: o, Err: err, Final: snap, Elapsed: s.cfg.Clock.Now().Sub(started)}
	}

	// the first tick is applied now; the next one is a full period away
	s.cfg.Clock.Reset()

	var resume <-chan struct{}
	if t.Kind == KindCoolDown {
		resume = r.resume
	}

	for _, p := range plan(t, s.cfg.State.Snapshot()) {
		if p.check {
			if snap, err := s.checkReservoirs(); err != nil {
				return finish(OutcomeFailed, snap, err)
			}
		}
		for i := 1; i <= p.ticks; i++ {
			if ctx.Err() != nil {
				return finish(OutcomeCancelled, s.stop(), ctx.Err())
			}
			snap := s.mutate(func(sn *machine.Snapshot) { applyTick(p, i, sn) })
			s.emit(snap, true)

			select {
			case <-ctx.Done():
				return finish(OutcomeCancelled, s.stop(), ctx.Err())
			case <-resume:
				return finish(OutcomeResumed, s.cfg.State.Snapshot(), nil)
			case <-s.cfg.Clock.Tick():
			}
		}
	}

	if ctx.Err() != nil {
		return finish(OutcomeCancelled, s.stop(), ctx.Err())
	}
	snap := s.mutate(func(sn *machine.Snapshot) { applyTerminal(t, sn) })
	s.emit(snap, true)
	return finish(OutcomeCompleted, snap, nil)
}

// stop leaves the state at a safe stopping point after cancellation.
func (s *Supervisor) stop() machine.Snapshot {
	snap := s.mutate(func(sn *machine.Snapshot) {
		sn.Step = machine.StepWaiting
		sn.WaterFlow = 0
	})
	s.emit(snap, true)
	return snap
}

func (s *Supervisor) checkReservoirs() (machine.Snapshot, error) {
	step, ok := checkReservoirs(s.cfg.State.Snapshot())
	if ok {
		return machine.Snapshot{}, nil
	}
	snap := s.mutate(func(sn *machine.Snapshot) {
		sn.Step = step
		sn.WaterFlow = 0
	})
	s.emit(snap, true)
	return snap, fmt.Errorf("%s: %w", step, machine.ErrResourceDepleted)
}

// mutate applies fn to the state, counting overlapping writers.
func (s *Supervisor) mutate(fn func(*machine.Snapshot)) machine.Snapshot {
	if s.inflight.Add(1) > 1 {
		s.violations.Add(1)
	}
	defer s.inflight.Add(-1)
	return s.cfg.State.Mutate(fn)
}

// emit publishes and persists snap. Persistence failures are logged.
func (s *Supervisor) emit(snap machine.Snapshot, activity bool) {
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.PublishStatus(snap)
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveStatus(context.Background(), snap); err != nil {
			s.log.Warn().Err(err).Msg("save status")
		}
	}
	if activity && s.cfg.Activity != nil {
		s.cfg.Activity.Touch()
	}
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.TickApplied(snap)
	}
}

func (s *Supervisor) report(res Result) {
	ev := s.log.Info()
	if res.Err != nil && res.Outcome == OutcomeFailed {
		ev = s.log.Warn().Err(res.Err)
	}
	ev.Str("task", res.Task.String()).
		Str("outcome", string(res.Outcome)).
		Str("step", string(res.Final.Step)).
		Dur("elapsed", res.Elapsed).
		Msg("task finished")

	if s.cfg.Recorder != nil {
		s.cfg.Recorder.TaskFinished(res.Task.Kind, res.Outcome, res.Elapsed)
	}
	if s.cfg.OnFinish != nil {
		s.cfg.OnFinish(res)
	}
}
