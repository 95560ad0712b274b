package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/clock"
	"github.com/sweeney/coffee-machine/internal/gpio"
	"github.com/sweeney/coffee-machine/internal/history"
	"github.com/sweeney/coffee-machine/internal/machine"
	"github.com/sweeney/coffee-machine/internal/mqtt"
	"github.com/sweeney/coffee-machine/internal/panel"
	"github.com/sweeney/coffee-machine/internal/protocol"
	"github.com/sweeney/coffee-machine/internal/sim"
	"github.com/sweeney/coffee-machine/internal/status"
	"github.com/sweeney/coffee-machine/internal/store"
	"github.com/sweeney/coffee-machine/internal/watchdog"
)

const stepTimeout = 2 * time.Second

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// observer records every message it is sent.
type observer struct {
	id   string
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (o *observer) ID() string { return o.id }

func (o *observer) Send(m broadcast.Message) error {
	o.mu.Lock()
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()
	return nil
}

func (o *observer) statuses() []machine.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []machine.Snapshot
	for _, m := range o.msgs {
		if m.Kind == broadcast.KindStatus {
			out = append(out, m.Status)
		}
	}
	return out
}

func (o *observer) histories() [][]machine.CoffeeRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out [][]machine.CoffeeRecord
	for _, m := range o.msgs {
		if m.Kind == broadcast.KindHistory {
			out = append(out, m.History)
		}
	}
	return out
}

type touchFunc func()

func (f touchFunc) Touch() { f() }

// stack is the daemon wired the way cmd/coffee-machine wires it, with a
// manual clock and fakes at the edges.
type stack struct {
	clk     *clock.Manual
	state   *machine.State
	sup     *sim.Supervisor
	hub     *broadcast.Broadcaster
	tracker *status.Tracker
	store   *store.Memory
	history *history.Service
	mqtt    *mqtt.FakePublisher
	wd      *watchdog.Watchdog
}

func newStack(t *testing.T, snap machine.Snapshot) *stack {
	t.Helper()
	log := zerolog.Nop()
	s := &stack{
		clk:   clock.NewManual(start, time.Second),
		state: machine.NewState(snap),
		hub:   broadcast.New(log),
		store: store.NewMemory(1000),
		mqtt:  mqtt.NewFakePublisher(),
	}
	s.state.SetNow(s.clk.Now)
	s.tracker = status.NewTracker(start, status.Config{TickMs: 1000}, s.clk.Now)
	s.hub.OnChange(s.tracker.SetObservers)
	s.history = history.New(s.store, s.hub, history.Config{Now: s.clk.Now, Logger: log})

	s.sup = sim.New(sim.Config{
		State:     s.state,
		Clock:     s.clk,
		Publisher: sim.Publishers{s.hub, s.tracker, mqtt.NewMirror(s.mqtt, log)},
		Store:     s.store,
		Activity:  touchFunc(func() { s.wd.Touch() }),
		OnFinish:  s.history.RecordBrew,
		Logger:    log,
	})
	s.wd = watchdog.New(s.sup, watchdog.Config{Now: s.clk.Now, Logger: log})
	t.Cleanup(s.sup.CancelCurrent)
	return s
}

func (s *stack) session(t *testing.T, o *observer) *protocol.Session {
	t.Helper()
	if err := s.hub.Join(o, s.sup.Snapshot); err != nil {
		t.Fatalf("join: %v", err)
	}
	return protocol.NewSession(o.id, protocol.Deps{
		Machine:  s.sup,
		History:  s.history,
		Activity: s.wd,
		Menu:     machine.DefaultMenu(),
		Now:      s.clk.Now,
		Logger:   zerolog.Nop(),
	})
}

func (s *stack) step(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.clk.Step(stepTimeout); err != nil {
			t.Fatalf("tick %d of %d: %v", i+1, n, err)
		}
	}
	s.sup.Wait()
}

func TestEndToEndHeatAndBrew(t *testing.T) {
	s := newStack(t, machine.Default())
	ctx := context.Background()
	alice := &observer{id: "alice"}
	bob := &observer{id: "bob"}
	sa := s.session(t, alice)
	s.session(t, bob)

	sa.Handle(ctx, "HeatUp")
	s.step(t, sim.HeatTicks)

	snap := s.sup.Snapshot()
	if snap.Temperature != machine.BrewTemp || !snap.PoweredOn || snap.Step != machine.StepWaiting {
		t.Fatalf("after heat up: %+v", snap)
	}

	sa.Handle(ctx, "Brew")
	sa.Handle(ctx, "1")
	if sa.State() != protocol.StateAwaitCoffeeChoice {
		t.Fatalf("session state: got %s, want await_coffee_choice", sa.State())
	}
	sa.Handle(ctx, "Normal")
	s.step(t, 31)

	snap = s.sup.Snapshot()
	if snap.CupsSinceEmpty != 1 || snap.CupsSinceFilled != 1 {
		t.Errorf("counters: got empty=%d filled=%d, want 1/1", snap.CupsSinceEmpty, snap.CupsSinceFilled)
	}
	if snap.Step != machine.StepWaiting || snap.WaterFlow != 0 {
		t.Errorf("final: step=%q flow=%d", snap.Step, snap.WaterFlow)
	}

	// both observers saw the same stream: join snapshot, 46 heat, 32 brew
	want := 1 + sim.HeatTicks + 1 + 31 + 1
	if got := len(alice.statuses()); got != want {
		t.Errorf("alice statuses: got %d, want %d", got, want)
	}
	if got := len(bob.statuses()); got != want {
		t.Errorf("bob statuses: got %d, want %d", got, want)
	}

	if got := s.tracker.Snapshot(); got.Machine != snap || got.Observers != 2 {
		t.Errorf("tracker: observers=%d machine=%+v", got.Observers, got.Machine)
	}
	last := s.mqtt.Statuses()
	if len(last) == 0 || last[len(last)-1] != snap {
		t.Error("mqtt mirror should carry the final snapshot")
	}
	persisted, ok, err := s.store.LoadStatus(ctx)
	if err != nil || !ok || persisted != snap {
		t.Errorf("persisted status: ok=%v err=%v %+v", ok, err, persisted)
	}

	// the completed brew lands in the history, which History broadcasts
	sa.Handle(ctx, "History")
	hs := bob.histories()
	if len(hs) != 1 || len(hs[0]) != 1 {
		t.Fatalf("history broadcast: %+v", hs)
	}
	rec := hs[0][0]
	if rec.Type != "Normal" || rec.Amount != 1 || rec.Source != machine.SourceMachine {
		t.Errorf("history record: %+v", rec)
	}
}

func TestEndToEndSessionsAreIndependent(t *testing.T) {
	s := newStack(t, machine.Default())
	ctx := context.Background()
	sa := s.session(t, &observer{id: "a"})
	sb := s.session(t, &observer{id: "b"})

	sa.Handle(ctx, "Brew")
	sb.Handle(ctx, "HeatUp")

	if sa.State() != protocol.StateAwaitAmount {
		t.Errorf("a: got %s, want await_amount", sa.State())
	}
	if sb.State() != protocol.StateReady {
		t.Errorf("b: got %s, want ready", sb.State())
	}
	if kind, ok := s.sup.Running(); !ok || kind != sim.KindHeatUp {
		t.Errorf("running: got %q %v, want heat_up", kind, ok)
	}
}

func TestEndToEndClientRecordStored(t *testing.T) {
	s := newStack(t, machine.Default())
	ctx := context.Background()
	sess := s.session(t, &observer{id: "a"})

	sess.Handle(ctx, `{"id":"42","type":"Espresso","strength":"3","createdDate":"2026-01-01T09:00:00Z"}`)

	h, err := s.history.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 1 || h[0].ID != "42" || h[0].Source != machine.SourceClient || h[0].Strength != 3 {
		t.Errorf("history: %+v", h)
	}
}

func TestEndToEndWatchdogStandbyThenCoolDown(t *testing.T) {
	hot := machine.Default()
	hot.Temperature = machine.BrewTemp
	hot.PoweredOn = true
	hot.Step = machine.StepBrewing
	s := newStack(t, hot)

	s.clk.Advance(watchdog.DefaultSoft + time.Second)
	if got := s.wd.Check(s.clk.Now()); got != watchdog.ActionStandby {
		t.Fatalf("first check: got %s, want standby", got)
	}
	if step := s.sup.Snapshot().Step; step != machine.StepWaiting {
		t.Errorf("standby step: got %q, want waiting", step)
	}
	if got := s.wd.Check(s.clk.Now()); got != watchdog.ActionNone {
		t.Errorf("repeat check: got %s, want none", got)
	}

	s.clk.Advance(watchdog.DefaultHard - watchdog.DefaultSoft)
	if got := s.wd.Check(s.clk.Now()); got != watchdog.ActionCoolDown {
		t.Fatalf("second check: got %s, want cool_down", got)
	}
	s.step(t, sim.CoolTicks)

	snap := s.sup.Snapshot()
	if snap.PoweredOn || snap.Temperature != machine.RoomTemp || snap.Step != machine.StepWaiting {
		t.Errorf("after cool down: %+v", snap)
	}
	if got := s.wd.Check(s.clk.Now().Add(time.Hour)); got != watchdog.ActionNone {
		t.Errorf("powered-off machine should be left alone, got %s", got)
	}
}

func TestEndToEndPanelRefillsEmptyTank(t *testing.T) {
	empty := machine.Default()
	empty.Temperature = machine.BrewTemp
	empty.PoweredOn = true
	empty.WaterOK = false
	empty.CupsSinceFilled = machine.WaterCapacity
	empty.Step = machine.StepWaterEmpty
	s := newStack(t, empty)

	seated := gpio.Sample{TankSeated: true, DrawerSeated: true}
	out := gpio.Sample{TankSeated: false, DrawerSeated: true}
	var samples []gpio.Sample
	for _, level := range []struct {
		s gpio.Sample
		n int
	}{{seated, 4}, {out, 5}, {seated, 5}} {
		for i := 0; i < level.n; i++ {
			samples = append(samples, level.s)
		}
	}

	at := start
	p := panel.New(gpio.NewFakeReader(samples...), s.sup, panel.Config{
		Debounce: 250 * time.Millisecond,
		Now: func() time.Time {
			at = at.Add(100 * time.Millisecond)
			return at
		},
		Logger: zerolog.Nop(),
	})
	var events []panel.Event
	for range samples {
		events = append(events, p.Poll()...)
	}

	if len(events) != 2 || events[1].Type != panel.EventTankSeated {
		t.Fatalf("events: %+v", events)
	}
	snap := s.sup.Snapshot()
	if !snap.WaterOK || snap.CupsSinceFilled != 0 {
		t.Errorf("after reseat: water_ok=%v cups_since_filled=%d", snap.WaterOK, snap.CupsSinceFilled)
	}
	if len(s.mqtt.Statuses()) != 1 {
		t.Errorf("refill should publish one status, got %d", len(s.mqtt.Statuses()))
	}
}
